package domain

import "time"

// DefaultAntigravityModelMapping 内置的模型别名表，在数据库规则之后生效。
// 图像模型放量时改过两次 ID，旧客户端仍在发旧名字，这里统一收敛到现行 ID。
var DefaultAntigravityModelMapping = map[string]string{
	"gemini-3.1-flash-image":         "gemini-3.1-flash-image",
	"gemini-3.1-flash-image-preview": "gemini-3.1-flash-image",
	"gemini-3-pro-image":             "gemini-3.1-flash-image",
	"gemini-3-pro-image-preview":     "gemini-3.1-flash-image",
}

// ModelMapping 模型名重写规则。Pattern 支持精确匹配和 * ? 通配符。
type ModelMapping struct {
	ID        int64     `json:"id"`
	Pattern   string    `json:"pattern"`
	Target    string    `json:"target"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
