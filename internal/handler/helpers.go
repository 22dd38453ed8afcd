package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/pkg/ip"
	"github.com/Tonwed/NullGravity/internal/service"
)

// clientFingerprint 由客户端 IP 和 UA 计算会话指纹，账号池据此做会话粘滞。
func clientFingerprint(c *gin.Context) string {
	return service.SessionFingerprint(ip.GetClientIP(c), c.Request.UserAgent())
}

// openAIError 按 OpenAI 错误格式应答。
func openAIError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}

// anthropicError 按 Anthropic 错误格式应答。
func anthropicError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}

func openAIErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func anthropicErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == 529:
		return "overloaded_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// forwardErrorStatus 把转发错误折算成对外状态码。
// 配额类 403 对外统一呈现为 429，客户端照限流重试即可。
func forwardErrorStatus(fe *service.ForwardError) int {
	if fe.Kind == service.UpstreamErrQuotaExhausted && fe.StatusCode == http.StatusForbidden {
		return http.StatusTooManyRequests
	}
	return fe.StatusCode
}

// renderForwardError 渲染转发失败。anthropic 风格下全军覆没的 503 升格为 529 overloaded。
func renderForwardError(c *gin.Context, err error, anthropic bool) int {
	var fe *service.ForwardError
	if errors.As(err, &fe) {
		status := forwardErrorStatus(fe)
		if anthropic {
			if status == http.StatusServiceUnavailable {
				status = 529
			}
			anthropicError(c, status, anthropicErrorType(status), fe.Message)
			return status
		}
		openAIError(c, status, openAIErrorType(status), fe.Message)
		return status
	}

	if errors.Is(err, service.ErrNoAccountsAvailable) {
		status := http.StatusServiceUnavailable
		if anthropic {
			anthropicError(c, status, "server_error", "No available accounts")
		} else {
			openAIError(c, status, "server_error", "No available accounts")
		}
		return status
	}

	status := http.StatusBadGateway
	if anthropic {
		anthropicError(c, status, "api_error", err.Error())
	} else {
		openAIError(c, status, "api_error", err.Error())
	}
	return status
}
