package service

import (
	"encoding/json"
	"fmt"

	"github.com/Tonwed/NullGravity/internal/pkg/gemini"
)

// DefaultAnthropicMaxTokens Anthropic 协议未显式给 max_tokens 时的默认值
const DefaultAnthropicMaxTokens = 8192

// AnthropicRequest /v1/messages 请求体
type AnthropicRequest struct {
	Model      string             `json:"model"`
	Messages   []AnthropicMessage `json:"messages"`
	System     json.RawMessage    `json:"system,omitempty"`
	MaxTokens  int                `json:"max_tokens,omitempty"`
	Stream     bool               `json:"stream,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Tools      []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice *AnthropicToolChoice `json:"tool_choice,omitempty"`
}

type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthropicContentBlock 请求侧的内容块
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// anthropicTextContent 展开 content：字符串直接返回，
// 块数组拼接 text 块并把 tool_result 折叠成文本，tool_use 块丢弃。
func anthropicTextContent(raw json.RawMessage) string {
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
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var text string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != undefinedSentinel {
				text += block.Text
			}
		case "tool_result":
			inner := anthropicTextContent(block.Content)
			if inner != "" {
				if text != "" {
					text += "\n"
				}
				text += inner
			}
		}
	}
	return text
}

// AnthropicToGemini 把 Anthropic messages 请求转换为上游 generateContent 请求。
//
// system 字段（字符串或块数组）进 systemInstruction，tool_result 折叠为 user 文本，
// assistant 消息只保留文本。max_tokens 缺省 8192，封顶 64000。
func AnthropicToGemini(req *AnthropicRequest) (*gemini.GenerateRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	out := &gemini.GenerateRequest{}

	if systemText := anthropicTextContent(req.System); systemText != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: systemText}}}
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		text := anthropicTextContent(msg.Content)
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, gemini.Content{
			Role:  role,
			Parts: []gemini.Part{{Text: text}},
		})
	}
	if len(out.Contents) == 0 {
		return nil, fmt.Errorf("no usable message content")
	}

	if len(req.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			if tool.Name == "" {
				continue
			}
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  gemini.CleanSchema(tool.InputSchema),
			})
		}
		if len(decls) > 0 {
			out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
		}
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "any":
			out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "ANY"}}
		case "tool":
			if req.ToolChoice.Name != "" {
				out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{
					Mode:                 "ANY",
					AllowedFunctionNames: []string{req.ToolChoice.Name},
				}}
			}
		case "auto":
			out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "AUTO"}}
		case "none":
			out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: &gemini.FunctionCallingConfig{Mode: "NONE"}}
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	maxTokens = clampMaxTokens(maxTokens)
	cfg := &gemini.GenerationConfig{MaxOutputTokens: &maxTokens}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	out.GenerationConfig = cfg

	return out, nil
}

// Anthropic 响应结构

type AnthropicResponse struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Role         string                 `json:"role"`
	Model        string                 `json:"model"`
	Content      []AnthropicRespContent `json:"content"`
	StopReason   string                 `json:"stop_reason,omitempty"`
	StopSequence *string                `json:"stop_sequence"`
	Usage        AnthropicUsage         `json:"usage"`
}

type AnthropicRespContent struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GeminiToAnthropic 把上游非流式响应转换为 Anthropic message。
func GeminiToAnthropic(model string, resp *gemini.Response) *AnthropicResponse {
	var text string
	var calls []gemini.FunctionCall
	if len(resp.Candidates) > 0 {
		text, calls = gemini.ExtractParts(resp.Candidates[0].Content.Parts)
	}

	var content []AnthropicRespContent
	if text != "" {
		content = append(content, AnthropicRespContent{Type: "text", Text: text})
	}
	for _, call := range calls {
		input := call.Args
		if input == nil {
			input = map[string]any{}
		}
		content = append(content, AnthropicRespContent{
			Type:  "tool_use",
			ID:    newMessageID("toolu_"),
			Name:  call.Name,
			Input: input,
		})
	}
	if content == nil {
		content = []AnthropicRespContent{{Type: "text", Text: ""}}
	}

	stopReason := "end_turn"
	if len(calls) > 0 {
		stopReason = "tool_use"
	}

	out := &AnthropicResponse{
		ID:         newMessageID("msg_"),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stopReason,
	}
	if resp.UsageMetadata != nil {
		out.Usage = AnthropicUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out
}

// AnthropicStreamEvent SSE 事件：事件名 + JSON 载荷
type AnthropicStreamEvent struct {
	Event string
	Data  []byte
}

func anthropicEvent(event string, payload any) AnthropicStreamEvent {
	data, _ := json.Marshal(payload)
	return AnthropicStreamEvent{Event: event, Data: data}
}

// AnthropicStreamState 流式转换状态机。
//
// 事件序列：message_start, ping, content_block_start/delta/stop（文本块 index 0），
// 每个工具调用一个独立 block（input 作为单个 input_json_delta 下发），
// 最后 message_delta + message_stop。
type AnthropicStreamState struct {
	ID    string
	Model string

	started     bool
	textOpen    bool
	nextIndex   int
	sawTool     bool
	inputTokens int
	outputTokens int
}

// NewAnthropicStreamState 创建流式转换状态机
func NewAnthropicStreamState(model string) *AnthropicStreamState {
	return &AnthropicStreamState{ID: newMessageID("msg_"), Model: model}
}

// Start 产出 message_start 和 ping 事件
func (s *AnthropicStreamState) Start() []AnthropicStreamEvent {
	s.started = true
	return []AnthropicStreamEvent{
		anthropicEvent("message_start", map[string]any{
			"type": "message_start",
			"message": AnthropicResponse{
				ID:      s.ID,
				Type:    "message",
				Role:    "assistant",
				Model:   s.Model,
				Content: []AnthropicRespContent{},
				Usage:   AnthropicUsage{},
			},
		}),
		anthropicEvent("ping", map[string]any{"type": "ping"}),
	}
}

// Next 把上游一个流式分片转换为 Anthropic 事件序列
func (s *AnthropicStreamState) Next(resp *gemini.Response) []AnthropicStreamEvent {
	if resp.UsageMetadata != nil {
		s.inputTokens = resp.UsageMetadata.PromptTokenCount
		s.outputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	if len(resp.Candidates) == 0 {
		return nil
	}

	text, calls := gemini.ExtractParts(resp.Candidates[0].Content.Parts)
	var events []AnthropicStreamEvent

	if text != "" {
		if !s.textOpen {
			events = append(events, anthropicEvent("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         s.nextIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			}))
			s.textOpen = true
		}
		events = append(events, anthropicEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": s.nextIndex,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}))
	}

	if len(calls) > 0 {
		if s.textOpen {
			events = append(events, anthropicEvent("content_block_stop", map[string]any{
				"type":  "content_block_stop",
				"index": s.nextIndex,
			}))
			s.textOpen = false
			s.nextIndex++
		}
		for _, call := range calls {
			s.sawTool = true
			input := call.Args
			if input == nil {
				input = map[string]any{}
			}
			inputJSON, _ := json.Marshal(input)
			events = append(events,
				anthropicEvent("content_block_start", map[string]any{
					"type":  "content_block_start",
					"index": s.nextIndex,
					"content_block": map[string]any{
						"type":  "tool_use",
						"id":    newMessageID("toolu_"),
						"name":  call.Name,
						"input": map[string]any{},
					},
				}),
				anthropicEvent("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": s.nextIndex,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": string(inputJSON)},
				}),
				anthropicEvent("content_block_stop", map[string]any{
					"type":  "content_block_stop",
					"index": s.nextIndex,
				}),
			)
			s.nextIndex++
		}
	}

	return events
}

// Finish 收尾：关掉未关闭的文本块，产出 message_delta 和 message_stop。
func (s *AnthropicStreamState) Finish() []AnthropicStreamEvent {
	var events []AnthropicStreamEvent
	if s.textOpen {
		events = append(events, anthropicEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": s.nextIndex,
		}))
		s.textOpen = false
	}

	stopReason := "end_turn"
	if s.sawTool {
		stopReason = "tool_use"
	}
	events = append(events,
		anthropicEvent("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": s.outputTokens},
		}),
		anthropicEvent("message_stop", map[string]any{"type": "message_stop"}),
	)
	return events
}

// Usage 流结束后的令牌统计
func (s *AnthropicStreamState) Usage() AnthropicUsage {
	return AnthropicUsage{InputTokens: s.inputTokens, OutputTokens: s.outputTokens}
}
