package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tonwed/NullGravity/internal/pkg/gemini"
)

// MaxOutputTokensCap 上游单次生成的令牌上限，超过会被 400 拒绝。
const MaxOutputTokensCap = 64000

// undefinedSentinel 部分客户端用该占位串表示空内容
const undefinedSentinel = "[undefined]"

// newMessageID 生成带前缀的 24 位十六进制 ID
func newMessageID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return prefix + hex.EncodeToString(buf)
}

// OpenAIChatRequest /v1/chat/completions 请求体
type OpenAIChatRequest struct {
	Model               string          `json:"model"`
	Messages            []OpenAIMessage `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Tools               []OpenAITool    `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
}

// OpenAIMessage content 可能是字符串或分段数组，解析时再展开。
type OpenAIMessage struct {
	Role      string           `json:"role"`
	Content   json.RawMessage  `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

// OpenAIToolCall Index 只在流式 delta 里出现，客户端靠它拼接多个并行调用。
type OpenAIToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// openAITextContent 展开 content 字段：字符串直接返回，
// 分段数组拼接全部 text 段，"[undefined]" 按空串处理。
func openAITextContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == undefinedSentinel {
			return ""
		}
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var text string
	for _, p := range parts {
		if p.Type == "text" && p.Text != undefinedSentinel {
			text += p.Text
		}
	}
	return text
}

// clampMaxTokens 限幅到上游可接受的范围
func clampMaxTokens(v int) int {
	if v > MaxOutputTokensCap {
		return MaxOutputTokensCap
	}
	return v
}

// OpenAIToGemini 把 OpenAI chat 请求转换为上游 generateContent 请求。
//
// system 消息合并进 systemInstruction，tool 结果消息折叠为 user 文本。
// assistant 消息只保留文本，历史 tool_calls 不回放给上游。
func OpenAIToGemini(req *OpenAIChatRequest) (*gemini.GenerateRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	out := &gemini.GenerateRequest{}
	var systemText string

	for i := range req.Messages {
		msg := &req.Messages[i]
		text := openAITextContent(msg.Content)
		switch msg.Role {
		case "system", "developer":
			if text != "" {
				if systemText != "" {
					systemText += "\n\n"
				}
				systemText += text
			}
		case "assistant":
			if text != "" {
				out.Contents = append(out.Contents, gemini.Content{
					Role:  "model",
					Parts: []gemini.Part{{Text: text}},
				})
			}
		case "tool":
			if text != "" {
				out.Contents = append(out.Contents, gemini.Content{
					Role:  "user",
					Parts: []gemini.Part{{Text: text}},
				})
			}
		default: // user
			if text != "" {
				out.Contents = append(out.Contents, gemini.Content{
					Role:  "user",
					Parts: []gemini.Part{{Text: text}},
				})
			}
		}
	}

	if len(out.Contents) == 0 {
		return nil, fmt.Errorf("no usable message content")
	}
	if systemText != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: systemText}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			if tool.Function.Name == "" {
				continue
			}
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  gemini.CleanSchema(tool.Function.Parameters),
			})
		}
		if len(decls) > 0 {
			out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
		}
	}

	if tc := openAIToolConfig(req.ToolChoice); tc != nil {
		out.ToolConfig = tc
	}

	cfg := &gemini.GenerationConfig{}
	hasCfg := false
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
		hasCfg = true
	}
	maxTokens := req.MaxTokens
	if maxTokens == nil {
		maxTokens = req.MaxCompletionTokens
	}
	if maxTokens != nil {
		clamped := clampMaxTokens(*maxTokens)
		cfg.MaxOutputTokens = &clamped
		hasCfg = true
	}
	if hasCfg {
		out.GenerationConfig = cfg
	}

	return out, nil
}

func openAIToolConfig(raw json.RawMessage) *gemini.ToolConfig {
	if len(raw) == 0 {
		return nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none":
			return &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "NONE"}}
		case "required":
			return &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "ANY"}}
		case "auto":
			return &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "AUTO"}}
		}
		return nil
	}
	var forced struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &forced); err == nil && forced.Function.Name != "" {
		return &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{
			Mode:                 "ANY",
			AllowedFunctionNames: []string{forced.Function.Name},
		}}
	}
	return nil
}

// OpenAI 响应结构

type OpenAIChatCompletion struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

type OpenAIChoice struct {
	Index        int                `json:"index"`
	Message      *OpenAIRespMessage `json:"message,omitempty"`
	Delta        *OpenAIRespMessage `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason"`
}

type OpenAIRespMessage struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func openAIToolCallsFrom(calls []gemini.FunctionCall) []OpenAIToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]OpenAIToolCall, 0, len(calls))
	for _, call := range calls {
		args, err := json.Marshal(call.Args)
		if err != nil || call.Args == nil {
			args = []byte("{}")
		}
		tc := OpenAIToolCall{ID: newMessageID("call_"), Type: "function"}
		tc.Function.Name = call.Name
		tc.Function.Arguments = string(args)
		out = append(out, tc)
	}
	return out
}

// GeminiToOpenAI 把上游非流式响应转换为 chat.completion。
func GeminiToOpenAI(model string, resp *gemini.Response) *OpenAIChatCompletion {
	var text string
	var calls []gemini.FunctionCall
	if len(resp.Candidates) > 0 {
		text, calls = gemini.ExtractParts(resp.Candidates[0].Content.Parts)
	}

	msg := &OpenAIRespMessage{Role: "assistant", ToolCalls: openAIToolCallsFrom(calls)}
	if text != "" || len(msg.ToolCalls) == 0 {
		msg.Content = &text
	}

	finish := "stop"
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}

	completion := &OpenAIChatCompletion{
		ID:      newMessageID("chatcmpl-"),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []OpenAIChoice{{Index: 0, Message: msg, FinishReason: &finish}},
	}
	if resp.UsageMetadata != nil {
		completion.Usage = &OpenAIUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return completion
}

// OpenAIStreamState 流式转换的逐块状态。
// 同一个流内所有 chunk 共享 id 和 created 时间戳，首块携带 role。
type OpenAIStreamState struct {
	ID        string
	Model     string
	Created   int64
	roleSent  bool
	sawTool   bool
	toolIndex int
	usage     *OpenAIUsage
}

// NewOpenAIStreamState 创建流式转换状态
func NewOpenAIStreamState(model string) *OpenAIStreamState {
	return &OpenAIStreamState{
		ID:      newMessageID("chatcmpl-"),
		Model:   model,
		Created: time.Now().Unix(),
	}
}

func (s *OpenAIStreamState) chunk(delta *OpenAIRespMessage, finish *string) []byte {
	c := OpenAIChatCompletion{
		ID:      s.ID,
		Object:  "chat.completion.chunk",
		Created: s.Created,
		Model:   s.Model,
		Choices: []OpenAIChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
	data, _ := json.Marshal(c)
	return data
}

// Next 把上游一个流式分片转换为零或多个 chat.completion.chunk 载荷。
func (s *OpenAIStreamState) Next(resp *gemini.Response) [][]byte {
	if len(resp.Candidates) == 0 {
		if resp.UsageMetadata != nil {
			s.usage = &OpenAIUsage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			}
		}
		return nil
	}

	text, calls := gemini.ExtractParts(resp.Candidates[0].Content.Parts)
	if resp.UsageMetadata != nil {
		s.usage = &OpenAIUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	var out [][]byte
	if text != "" {
		delta := &OpenAIRespMessage{Content: &text}
		if !s.roleSent {
			delta.Role = "assistant"
			s.roleSent = true
		}
		out = append(out, s.chunk(delta, nil))
	}
	if len(calls) > 0 {
		s.sawTool = true
		delta := &OpenAIRespMessage{ToolCalls: s.indexedToolCalls(calls)}
		if !s.roleSent {
			delta.Role = "assistant"
			s.roleSent = true
		}
		out = append(out, s.chunk(delta, nil))
	}
	return out
}

// indexedToolCalls 给流式 delta 里的工具调用编号，编号跨 chunk 递增。
func (s *OpenAIStreamState) indexedToolCalls(calls []gemini.FunctionCall) []OpenAIToolCall {
	out := openAIToolCallsFrom(calls)
	for i := range out {
		idx := s.toolIndex
		s.toolIndex++
		out[i].Index = &idx
	}
	return out
}

// Usage 流结束后的令牌统计，上游未给出时返回 nil。
func (s *OpenAIStreamState) Usage() *OpenAIUsage {
	return s.usage
}

// Finish 产出收尾 chunk。调用方随后写 "data: [DONE]"。
func (s *OpenAIStreamState) Finish() []byte {
	finish := "stop"
	if s.sawTool {
		finish = "tool_calls"
	}
	c := OpenAIChatCompletion{
		ID:      s.ID,
		Object:  "chat.completion.chunk",
		Created: s.Created,
		Model:   s.Model,
		Choices: []OpenAIChoice{{Index: 0, Delta: &OpenAIRespMessage{}, FinishReason: &finish}},
		Usage:   s.usage,
	}
	data, _ := json.Marshal(c)
	return data
}
