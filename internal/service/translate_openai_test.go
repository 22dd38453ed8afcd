//go:build unit

package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tonwed/NullGravity/internal/pkg/gemini"
)

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func rawJSON(s string) json.RawMessage { return json.RawMessage(s) }

func TestOpenAIToGemini_Basic(t *testing.T) {
	req := &OpenAIChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []OpenAIMessage{
			{Role: "system", Content: rawJSON(`"You are helpful."`)},
			{Role: "user", Content: rawJSON(`"Hello"`)},
			{Role: "assistant", Content: rawJSON(`"Hi there"`)},
			{Role: "user", Content: rawJSON(`"Bye"`)},
		},
		Temperature: floatPtr(0.3),
		MaxTokens:   intPtr(1024),
	}

	out, err := OpenAIToGemini(req)
	require.NoError(t, err)

	require.NotNil(t, out.SystemInstruction)
	require.Equal(t, "You are helpful.", out.SystemInstruction.Parts[0].Text)

	require.Len(t, out.Contents, 3)
	require.Equal(t, "user", out.Contents[0].Role)
	require.Equal(t, "model", out.Contents[1].Role)
	require.Equal(t, "user", out.Contents[2].Role)

	require.NotNil(t, out.GenerationConfig)
	require.Equal(t, 0.3, *out.GenerationConfig.Temperature)
	require.Equal(t, 1024, *out.GenerationConfig.MaxOutputTokens)
}

func TestOpenAIToGemini_SystemMessagesMerged(t *testing.T) {
	req := &OpenAIChatRequest{
		Messages: []OpenAIMessage{
			{Role: "system", Content: rawJSON(`"first"`)},
			{Role: "developer", Content: rawJSON(`"second"`)},
			{Role: "user", Content: rawJSON(`"hi"`)},
		},
	}
	out, err := OpenAIToGemini(req)
	require.NoError(t, err)
	require.Equal(t, "first\n\nsecond", out.SystemInstruction.Parts[0].Text)
}

func TestOpenAIToGemini_ContentParts(t *testing.T) {
	req := &OpenAIChatRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: rawJSON(`[{"type":"text","text":"part one "},{"type":"text","text":"part two"},{"type":"image_url","image_url":{}}]`)},
		},
	}
	out, err := OpenAIToGemini(req)
	require.NoError(t, err)
	require.Equal(t, "part one part two", out.Contents[0].Parts[0].Text)
}

func TestOpenAIToGemini_UndefinedSentinel(t *testing.T) {
	req := &OpenAIChatRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: rawJSON(`"[undefined]"`)},
			{Role: "user", Content: rawJSON(`"real content"`)},
		},
	}
	out, err := OpenAIToGemini(req)
	require.NoError(t, err)
	require.Len(t, out.Contents, 1)
	require.Equal(t, "real content", out.Contents[0].Parts[0].Text)
}

func TestOpenAIToGemini_AllContentEmpty(t *testing.T) {
	req := &OpenAIChatRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: rawJSON(`"[undefined]"`)},
		},
	}
	_, err := OpenAIToGemini(req)
	require.Error(t, err)
}

func TestOpenAIToGemini_MaxTokensClamped(t *testing.T) {
	req := &OpenAIChatRequest{
		Messages:  []OpenAIMessage{{Role: "user", Content: rawJSON(`"hi"`)}},
		MaxTokens: intPtr(200000),
	}
	out, err := OpenAIToGemini(req)
	require.NoError(t, err)
	require.Equal(t, MaxOutputTokensCap, *out.GenerationConfig.MaxOutputTokens)

	// max_completion_tokens 是 max_tokens 缺失时的别名
	req = &OpenAIChatRequest{
		Messages:            []OpenAIMessage{{Role: "user", Content: rawJSON(`"hi"`)}},
		MaxCompletionTokens: intPtr(2048),
	}
	out, err = OpenAIToGemini(req)
	require.NoError(t, err)
	require.Equal(t, 2048, *out.GenerationConfig.MaxOutputTokens)
}

func TestOpenAIToGemini_Tools(t *testing.T) {
	var tool OpenAITool
	tool.Type = "function"
	tool.Function.Name = "get_weather"
	tool.Function.Description = "Get the weather"
	tool.Function.Parameters = map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]any{"city": map[string]any{"type": "string"}},
	}

	req := &OpenAIChatRequest{
		Messages: []OpenAIMessage{{Role: "user", Content: rawJSON(`"hi"`)}},
		Tools:    []OpenAITool{tool},
	}
	out, err := OpenAIToGemini(req)
	require.NoError(t, err)
	require.Len(t, out.Tools, 1)
	decl := out.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "get_weather", decl.Name)
	require.NotContains(t, decl.Parameters, "additionalProperties")
}

func TestOpenAIToolConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		mode string
	}{
		{"none", `"none"`, "NONE"},
		{"auto", `"auto"`, "AUTO"},
		{"required", `"required"`, "ANY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := openAIToolConfig(rawJSON(tt.raw))
			require.NotNil(t, tc)
			require.Equal(t, tt.mode, tc.FunctionCallingConfig.Mode)
		})
	}

	forced := openAIToolConfig(rawJSON(`{"type":"function","function":{"name":"get_weather"}}`))
	require.NotNil(t, forced)
	require.Equal(t, "ANY", forced.FunctionCallingConfig.Mode)
	require.Equal(t, []string{"get_weather"}, forced.FunctionCallingConfig.AllowedFunctionNames)

	require.Nil(t, openAIToolConfig(nil))
	require.Nil(t, openAIToolConfig(rawJSON(`"bogus"`)))
}

func TestGeminiToOpenAI_Text(t *testing.T) {
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Role: "model", Parts: []gemini.Part{{Text: "Hello!"}}},
		}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}

	out := GeminiToOpenAI("gemini-2.5-flash", resp)
	require.Equal(t, "chat.completion", out.Object)
	require.Equal(t, "gemini-2.5-flash", out.Model)
	require.Len(t, out.Choices, 1)
	require.Equal(t, "Hello!", *out.Choices[0].Message.Content)
	require.Equal(t, "stop", *out.Choices[0].FinishReason)
	require.Equal(t, 10, out.Usage.PromptTokens)
	require.Equal(t, 5, out.Usage.CompletionTokens)
}

func TestGeminiToOpenAI_ToolCalls(t *testing.T) {
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Parts: []gemini.Part{
				{FunctionCall: &gemini.FunctionCall{Name: "get_weather", Args: map[string]any{"city": "Tokyo"}}},
			}},
		}},
	}

	out := GeminiToOpenAI("m", resp)
	msg := out.Choices[0].Message
	require.Nil(t, msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	require.Equal(t, "get_weather", msg.ToolCalls[0].Function.Name)
	require.JSONEq(t, `{"city":"Tokyo"}`, msg.ToolCalls[0].Function.Arguments)
	// index 是流式专用字段，非流式响应不带
	require.Nil(t, msg.ToolCalls[0].Index)
	require.Equal(t, "tool_calls", *out.Choices[0].FinishReason)
}

func TestOpenAIStreamState(t *testing.T) {
	state := NewOpenAIStreamState("gemini-2.5-flash")

	chunks := state.Next(&gemini.Response{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{{Text: "Hel"}}}}},
	})
	require.Len(t, chunks, 1)

	var first OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(chunks[0], &first))
	require.Equal(t, "chat.completion.chunk", first.Object)
	require.Equal(t, state.ID, first.ID)
	require.Equal(t, "assistant", first.Choices[0].Delta.Role)
	require.Equal(t, "Hel", *first.Choices[0].Delta.Content)

	chunks = state.Next(&gemini.Response{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{{Text: "lo"}}}}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 2},
	})
	require.Len(t, chunks, 1)
	var second OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(chunks[0], &second))
	// 同一个流共享 id，role 只出现在首块
	require.Equal(t, first.ID, second.ID)
	require.Empty(t, second.Choices[0].Delta.Role)

	var final OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(state.Finish(), &final))
	require.Equal(t, "stop", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	require.Equal(t, 4, final.Usage.PromptTokens)

	usage := state.Usage()
	require.NotNil(t, usage)
	require.Equal(t, 2, usage.CompletionTokens)
}

func TestOpenAIStreamState_ToolCallFinish(t *testing.T) {
	state := NewOpenAIStreamState("m")
	chunks := state.Next(&gemini.Response{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{
			{FunctionCall: &gemini.FunctionCall{Name: "fn", Args: map[string]any{}}},
		}}}},
	})
	require.Len(t, chunks, 1)

	var final OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(state.Finish(), &final))
	require.Equal(t, "tool_calls", *final.Choices[0].FinishReason)
}

func TestOpenAIStreamState_ToolCallIndexes(t *testing.T) {
	state := NewOpenAIStreamState("m")

	chunks := state.Next(&gemini.Response{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{
			{FunctionCall: &gemini.FunctionCall{Name: "fn_a", Args: map[string]any{}}},
			{FunctionCall: &gemini.FunctionCall{Name: "fn_b", Args: map[string]any{}}},
		}}}},
	})
	require.Len(t, chunks, 1)

	var first OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(chunks[0], &first))
	calls := first.Choices[0].Delta.ToolCalls
	require.Len(t, calls, 2)
	require.Equal(t, 0, *calls[0].Index)
	require.Equal(t, 1, *calls[1].Index)

	// 编号跨 chunk 连续，客户端才能区分并行调用
	chunks = state.Next(&gemini.Response{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{
			{FunctionCall: &gemini.FunctionCall{Name: "fn_c", Args: map[string]any{}}},
		}}}},
	})
	require.Len(t, chunks, 1)
	var second OpenAIChatCompletion
	require.NoError(t, json.Unmarshal(chunks[0], &second))
	require.Equal(t, 2, *second.Choices[0].Delta.ToolCalls[0].Index)
}
