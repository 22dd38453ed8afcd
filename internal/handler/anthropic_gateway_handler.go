package handler

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/gemini"
	"github.com/Tonwed/NullGravity/internal/pkg/httputil"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/service"
)

// AnthropicGatewayHandler Anthropic 兼容入口。
type AnthropicGatewayHandler struct {
	forwarder *service.Forwarder
	mappings  *service.ModelMappingService
	logs      *service.RequestLogService
}

// NewAnthropicGatewayHandler creates a new AnthropicGatewayHandler
func NewAnthropicGatewayHandler(
	forwarder *service.Forwarder,
	mappings *service.ModelMappingService,
	logs *service.RequestLogService,
) *AnthropicGatewayHandler {
	return &AnthropicGatewayHandler{forwarder: forwarder, mappings: mappings, logs: logs}
}

// Messages handles POST /v1/messages
func (h *AnthropicGatewayHandler) Messages(c *gin.Context) {
	start := time.Now()

	body, err := httputil.ReadRequestBodyWithPrealloc(c.Request)
	if err != nil || len(body) == 0 {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "Failed to read request body")
		return
	}

	var req service.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body")
		return
	}
	if req.Model == "" {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "messages is required")
		return
	}

	target := h.mappings.Resolve(c.Request.Context(), req.Model)
	originalModel := ""
	if target != req.Model {
		originalModel = req.Model
	}

	greq, err := service.AnthropicToGemini(&req)
	if err != nil {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	entry := &domain.RequestLog{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		Protocol:      "anthropic",
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
		entry.StatusCode = renderForwardError(c, err, true)
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		return
	}
	defer result.Response.Body.Close()

	entry.AccountID = result.Account.Account.ID
	entry.AccountEmail = result.Account.Account.Email

	if req.Stream {
		h.streamMessages(c, req.Model, result, entry, start)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(result.Response.Body, 32<<20))
	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		anthropicError(c, http.StatusBadGateway, "api_error", "Failed to read upstream response")
		return
	}
	resp, err := gemini.UnwrapResponse(raw)
	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.Error = err.Error()
		entry.DurationMs = durationMs(start)
		h.logs.Record(entry)
		anthropicError(c, http.StatusBadGateway, "api_error", "Invalid upstream response")
		return
	}

	message := service.GeminiToAnthropic(req.Model, resp)
	entry.StatusCode = http.StatusOK
	entry.DurationMs = durationMs(start)
	entry.InputTokens = message.Usage.InputTokens
	entry.OutputTokens = message.Usage.OutputTokens
	h.logs.Record(entry)
	c.JSON(http.StatusOK, message)
}

// streamMessages 把上游 SSE 翻译成 Anthropic 事件流。
func (h *AnthropicGatewayHandler) streamMessages(c *gin.Context, model string, result *service.ForwardResult, entry *domain.RequestLog, start time.Time) {
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		anthropicError(c, http.StatusInternalServerError, "api_error", "Streaming unsupported")
		return
	}

	state := service.NewAnthropicStreamState(model)
	writeAnthropicEvents(c.Writer, state.Start())
	flusher.Flush()

	scanner := bufio.NewScanner(result.Response.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	for scanner.Scan() {
		payload, ok := sseDataPayload(scanner.Bytes())
		if !ok {
			continue
		}
		resp, err := gemini.UnwrapResponse(payload)
		if err != nil {
			logger.L().Debug("anthropic_stream_chunk_invalid", zap.Error(err))
			continue
		}
		if events := state.Next(resp); len(events) > 0 {
			writeAnthropicEvents(c.Writer, events)
			flusher.Flush()
		}
	}
	if err := scanner.Err(); err != nil {
		logger.L().Warn("anthropic_stream_interrupted", zap.Error(err))
		entry.Error = err.Error()
	}

	writeAnthropicEvents(c.Writer, state.Finish())
	flusher.Flush()

	usage := state.Usage()
	entry.StatusCode = http.StatusOK
	entry.DurationMs = durationMs(start)
	entry.InputTokens = usage.InputTokens
	entry.OutputTokens = usage.OutputTokens
	h.logs.Record(entry)
}

func writeAnthropicEvents(w io.Writer, events []service.AnthropicStreamEvent) {
	for _, ev := range events {
		_, _ = w.Write([]byte("event: " + ev.Event + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(ev.Data)
		_, _ = w.Write([]byte("\n\n"))
	}
}
