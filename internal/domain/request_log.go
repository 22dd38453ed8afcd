package domain

import "time"

// RequestLog 网关侧的一次代理请求记录。
type RequestLog struct {
	ID            int64     `json:"id"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Protocol      string    `json:"protocol"` // openai / anthropic / passthrough
	Model         string    `json:"model,omitempty"`
	OriginalModel string    `json:"original_model,omitempty"`
	Stream        bool      `json:"stream"`
	StatusCode    int       `json:"status_code"`
	DurationMs    float64   `json:"duration_ms"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	AccountID     int64     `json:"account_id,omitempty"`
	AccountEmail  string    `json:"account_email,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
