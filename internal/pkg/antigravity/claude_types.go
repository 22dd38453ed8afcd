// Package antigravity 描述 CloudCode 上游放量的模型目录。
package antigravity

// ClaudeModel 目录中的一个模型。
type ClaudeModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
}

// DefaultModels 静态模型目录。上游不提供公开的目录接口，
// 新模型放量后在这里手工维护，旧 ID 保留以兼容已有客户端配置。
func DefaultModels() []ClaudeModel {
	return []ClaudeModel{
		{ID: "claude-opus-4-6-thinking", Name: "Claude Opus 4.6 Thinking", OwnedBy: "anthropic"},
		{ID: "claude-sonnet-4-6", Name: "Claude Sonnet 4.6", OwnedBy: "anthropic"},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", OwnedBy: "google"},
		{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", OwnedBy: "google"},
		{ID: "gemini-2.5-flash-thinking", Name: "Gemini 2.5 Flash Thinking", OwnedBy: "google"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", OwnedBy: "google"},
		{ID: "gemini-3-flash", Name: "Gemini 3 Flash", OwnedBy: "google"},
		{ID: "gemini-3-pro-high", Name: "Gemini 3 Pro High", OwnedBy: "google"},
		{ID: "gemini-3-pro-low", Name: "Gemini 3 Pro Low", OwnedBy: "google"},
		// legacy compatibility
		{ID: "gemini-3-pro-image", Name: "Gemini 3 Pro Image", OwnedBy: "google"},
		{ID: "gemini-3.1-flash-image", Name: "Gemini 3.1 Flash Image", OwnedBy: "google"},
		{ID: "gemini-3.1-flash-image-preview", Name: "Gemini 3.1 Flash Image Preview", OwnedBy: "google"},
		{ID: "gemini-3.1-pro-high", Name: "Gemini 3.1 Pro High", OwnedBy: "google"},
		{ID: "gemini-3.1-pro-low", Name: "Gemini 3.1 Pro Low", OwnedBy: "google"},
	}
}
