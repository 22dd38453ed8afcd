//go:build unit

package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Tonwed/NullGravity/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return c, rec
}

func TestOpenAIErrorType(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "authentication_error"},
		{http.StatusNotFound, "not_found_error"},
		{http.StatusTooManyRequests, "rate_limit_error"},
		{http.StatusBadRequest, "invalid_request_error"},
		{http.StatusForbidden, "invalid_request_error"},
		{http.StatusInternalServerError, "api_error"},
		{http.StatusServiceUnavailable, "api_error"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, openAIErrorType(tt.status), "status %d", tt.status)
	}
}

func TestAnthropicErrorType(t *testing.T) {
	require.Equal(t, "overloaded_error", anthropicErrorType(529))
	require.Equal(t, "rate_limit_error", anthropicErrorType(http.StatusTooManyRequests))
	require.Equal(t, "api_error", anthropicErrorType(http.StatusBadGateway))
}

func TestRenderForwardError_QuotaForbiddenBecomesRateLimit(t *testing.T) {
	c, rec := newTestContext(t)

	status := renderForwardError(c, &service.ForwardError{
		StatusCode: http.StatusForbidden,
		Kind:       service.UpstreamErrQuotaExhausted,
		Message:    "quota exceeded",
	}, false)

	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "rate_limit_error", body.Get("error.type").String())
	require.Equal(t, "quota exceeded", body.Get("error.message").String())
}

func TestRenderForwardError_AnthropicOverloaded(t *testing.T) {
	c, rec := newTestContext(t)

	status := renderForwardError(c, service.ErrAllAccountsExhausted, true)

	require.Equal(t, 529, status)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "error", body.Get("type").String())
	require.Equal(t, "overloaded_error", body.Get("error.type").String())
}

func TestRenderForwardError_NoAccounts(t *testing.T) {
	c, rec := newTestContext(t)

	status := renderForwardError(c, service.ErrNoAccountsAvailable, false)

	require.Equal(t, http.StatusServiceUnavailable, status)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "server_error", body.Get("error.type").String())
	require.Equal(t, "No available accounts", body.Get("error.message").String())
}

func TestRenderForwardError_UnknownFallsBackToBadGateway(t *testing.T) {
	c, rec := newTestContext(t)

	status := renderForwardError(c, errors.New("boom"), false)

	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, "boom", gjson.ParseBytes(rec.Body.Bytes()).Get("error.message").String())
}
