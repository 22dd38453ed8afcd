package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/antigravity"
	"github.com/Tonwed/NullGravity/internal/pkg/gemini"
	"github.com/Tonwed/NullGravity/internal/pkg/httputil"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/service"
)

// DefaultModel 请求未带 model 时的兜底模型。
const DefaultModel = "gemini-2.5-flash"

// OpenAIGatewayHandler OpenAI 兼容入口。
type OpenAIGatewayHandler struct {
	forwarder *service.Forwarder
	mappings  *service.ModelMappingService
	logs      *service.RequestLogService
}

// NewOpenAIGatewayHandler creates a new OpenAIGatewayHandler
func NewOpenAIGatewayHandler(
	forwarder *service.Forwarder,
	mappings *service.ModelMappingService,
	logs *service.RequestLogService,
) *OpenAIGatewayHandler {
	return &OpenAIGatewayHandler{forwarder: forwarder, mappings: mappings, logs: logs}
}

// ListModels handles GET /v1/models
func (h *OpenAIGatewayHandler) ListModels(c *gin.Context) {
	models := antigravity.DefaultModels()
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m.ID,
			"object":   "model",
			"created":  1700000000,
			"owned_by": m.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// ChatCompletions handles POST /v1/chat/completions
func (h *OpenAIGatewayHandler) ChatCompletions(c *gin.Context) {
	start := time.Now()

	body, err := httputil.ReadRequestBodyWithPrealloc(c.Request)
	if err != nil || len(body) == 0 {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", "Failed to read request body")
		return
	}

	var req service.OpenAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body")
		return
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if len(req.Messages) == 0 {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", "messages is required")
		return
	}

	target := h.mappings.Resolve(c.Request.Context(), req.Model)
	originalModel := ""
	if target != req.Model {
		originalModel = req.Model
	}

	greq, err := service.OpenAIToGemini(&req)
	if err != nil {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	entry := &domain.RequestLog{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		Protocol:      "openai",
		Model:         target,
		OriginalModel: originalModel,
		Stream:        req.Stream,
		CreatedAt:     start,
	}

	result, err := h.forwarder.Forward(c.Request.Context(), &service.ForwardInput{
		Fingerprint: clientFingerprint(c),
		Model:       target,
		Request:     greq,
		Stream:      req.Stream,
	})
	if err != nil {
		entry.StatusCode = renderForwardError(c, err, false)
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		return
	}
	defer result.Response.Body.Close()

	entry.AccountID = result.Account.Account.ID
	entry.AccountEmail = result.Account.Account.Email

	if req.Stream {
		h.streamChatCompletions(c, req.Model, result, entry, start)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(result.Response.Body, 32<<20))
	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		openAIError(c, http.StatusBadGateway, "api_error", "Failed to read upstream response")
		return
	}
	resp, err := gemini.UnwrapResponse(raw)
	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		openAIError(c, http.StatusBadGateway, "api_error", "Invalid upstream response")
		return
	}

	completion := service.GeminiToOpenAI(req.Model, resp)
	entry.StatusCode = http.StatusOK
	entry.DurationMs = durationMs(start)
	if completion.Usage != nil {
		entry.InputTokens = completion.Usage.PromptTokens
		entry.OutputTokens = completion.Usage.CompletionTokens
	}
	h.logs.Record(entry)
	c.JSON(http.StatusOK, completion)
}

// streamChatCompletions 把上游 SSE 翻译成 OpenAI chunk 流。
func (h *OpenAIGatewayHandler) streamChatCompletions(c *gin.Context, model string, result *service.ForwardResult, entry *domain.RequestLog, start time.Time) {
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		openAIError(c, http.StatusInternalServerError, "api_error", "Streaming unsupported")
		return
	}

	state := service.NewOpenAIStreamState(model)
	scanner := bufio.NewScanner(result.Response.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	for scanner.Scan() {
		payload, ok := sseDataPayload(scanner.Bytes())
		if !ok {
			continue
		}
		resp, err := gemini.UnwrapResponse(payload)
		if err != nil {
			logger.L().Debug("openai_stream_chunk_invalid", zap.Error(err))
			continue
		}
		for _, chunk := range state.Next(resp) {
			writeSSEData(c.Writer, chunk)
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil {
		logger.L().Warn("openai_stream_interrupted", zap.Error(err))
		entry.Error = err.Error()
	}

	writeSSEData(c.Writer, state.Finish())
	writeSSEData(c.Writer, []byte("[DONE]"))
	flusher.Flush()

	entry.StatusCode = http.StatusOK
	entry.DurationMs = durationMs(start)
	if usage := state.Usage(); usage != nil {
		entry.InputTokens = usage.PromptTokens
		entry.OutputTokens = usage.CompletionTokens
	}
	h.logs.Record(entry)
}

// setSSEHeaders 流式应答的固定响应头。
func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// sseDataPayload 取出 SSE 行中 data: 后面的内容，[DONE] 与空行返回 false。
func sseDataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[5:])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return nil, false
	}
	return payload, true
}

func writeSSEData(w io.Writer, data []byte) {
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
