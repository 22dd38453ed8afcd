package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/httputil"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/service"
)

// PassthroughHandler /v1internal 透传入口。Antigravity 语言服务器直接把
// 官方端点指到本代理时走这条路径，请求体不做任何协议转换。
type PassthroughHandler struct {
	forwarder *service.Forwarder
	logs      *service.RequestLogService
}

// NewPassthroughHandler creates a new PassthroughHandler
func NewPassthroughHandler(forwarder *service.Forwarder, logs *service.RequestLogService) *PassthroughHandler {
	return &PassthroughHandler{forwarder: forwarder, logs: logs}
}

// strippedResponseHeaders 回传前剥掉的响应头，长度和编码由本代理重新决定。
var strippedResponseHeaders = []string{"Transfer-Encoding", "Content-Encoding", "Content-Length"}

// Proxy handles ANY /v1internal*
func (h *PassthroughHandler) Proxy(c *gin.Context) {
	start := time.Now()

	body, err := httputil.ReadRequestBodyWithPrealloc(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	entry := &domain.RequestLog{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Protocol:  "passthrough",
		Stream:    true,
		CreatedAt: start,
	}

	result, err := h.forwarder.ForwardRaw(c.Request.Context(), &service.RawForwardInput{
		Fingerprint: clientFingerprint(c),
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		RawQuery:    c.Request.URL.RawQuery,
		Headers:     c.Request.Header,
		Body:        body,
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

	header := c.Writer.Header()
	for name, values := range result.Response.Header {
		if isStrippedResponseHeader(name) {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	c.Status(result.Response.StatusCode)

	if _, err := io.Copy(c.Writer, result.Response.Body); err != nil {
		logger.L().Warn("passthrough_relay_interrupted",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		entry.Error = err.Error()
	}

	entry.StatusCode = result.Response.StatusCode
	entry.DurationMs = durationMs(start)
	h.logs.Record(entry)
}

func isStrippedResponseHeader(name string) bool {
	for _, h := range strippedResponseHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
