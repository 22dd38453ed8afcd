// Package gemini 定义 CloudCode v1internal generateContent 的请求/响应结构。
package gemini

import "encoding/json"

// Content 一条对话内容，role 为 "user" 或 "model"。
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part 内容片段：纯文本或函数调用。
type Part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// FunctionCall 模型发起的工具调用。
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionDeclaration 单个可调用函数的声明。
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool 工具容器，目前只有 functionDeclarations。
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// ToolConfig 函数调用策略。
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

// FunctionCallingConfig mode 为 AUTO / NONE / ANY。
type FunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// GenerationConfig 生成参数。
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GenerateRequest 是 envelope 中 "request" 字段的内容。
type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate 响应候选。
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata 令牌统计。
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Response generateContent 的解包后响应。
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// envelopeWrapper daily 端点把响应再包一层 {"response": ...}。
type envelopeWrapper struct {
	Response json.RawMessage `json:"response"`
}

// UnwrapResponse 解析响应体，自动剥离 {"response": ...} 外壳。
func UnwrapResponse(data []byte) (*Response, error) {
	var wrapper envelopeWrapper
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		data = wrapper.Response
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExtractParts 把候选 parts 拆成文本与工具调用两部分。
func ExtractParts(parts []Part) (string, []FunctionCall) {
	var text string
	var calls []FunctionCall
	for _, p := range parts {
		if p.Text != "" {
			text += p.Text
		}
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return text, calls
}
