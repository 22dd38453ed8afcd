//go:build unit

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tonwed/NullGravity/internal/domain"
)

func TestClassifyUpstreamError(t *testing.T) {
	quotaBody := `{"error":{"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded for metric"}}`
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"unauthorized", 401, `{}`, UpstreamErrUnauthenticated},
		{"model_not_found", 404, `{}`, UpstreamErrModelNotFound},
		{"rate_limit", 429, `{"error":{"message":"slow down"}}`, UpstreamErrRateLimit},
		{"rate_limit_with_quota_body", 429, quotaBody, UpstreamErrRateLimit},
		{"capacity_marked", 503, `{"error":{"status":"CAPACITY_EXHAUSTED"}}`, UpstreamErrCapacityExhausted},
		{"capacity_text", 503, `{"error":{"message":"no capacity left"}}`, UpstreamErrCapacityExhausted},
		{"bare_503", 503, `{}`, UpstreamErrUnknown},
		{"quota_403", 403, quotaBody, UpstreamErrQuotaExhausted},
		{"quota_403_text", 403, `{"error":{"message":"Quota exceeded"}}`, UpstreamErrQuotaExhausted},
		{"plain_403", 403, `{"error":{"message":"forbidden"}}`, UpstreamErrUnknown},
		{"unauthenticated_by_status", 400, `{"error":{"status":"UNAUTHENTICATED"}}`, UpstreamErrUnauthenticated},
		{"unknown", 400, `{"error":{"message":"bad request"}}`, UpstreamErrUnknown},
		{"empty_body", 500, ``, UpstreamErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyUpstreamError(tt.status, []byte(tt.body)))
		})
	}
}

func newTestForwarder(t *testing.T, upstream *fakeUpstream, accounts ...domain.Account) (*Forwarder, *AccountPool) {
	t.Helper()
	pool, _, _ := newTestPool(t, ScheduleModeBalance, accounts...)
	settings := newTestSettings(nil)
	f := NewForwarder(pool, upstream, settings, 0)
	f.state = NewProxyState()
	return f, pool
}

func TestForward_Success(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(200, `{"response":{"candidates":[]}}`),
	}}
	f, _ := newTestForwarder(t, upstream, domain.Account{Email: "a@x.com"})

	result, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1",
		Model:       "gemini-2.5-flash",
		Request:     map[string]any{"contents": []any{}},
		Stream:      false,
	})
	require.NoError(t, err)
	require.Equal(t, 200, result.Response.StatusCode)
	result.Response.Body.Close()

	require.Len(t, upstream.requests, 1)
	req := upstream.requests[0]
	require.Equal(t, UpstreamBaseDaily+"/v1internal:generateContent", req.URL)
	require.Equal(t, "Bearer at-a@x.com", req.Headers["authorization"])

	var envelope WireEnvelope
	require.NoError(t, json.Unmarshal(req.Body, &envelope))
	require.Equal(t, FallbackProjectID, envelope.Project)
	require.Equal(t, "gemini-2.5-flash", envelope.Model)
	require.Equal(t, "agent", envelope.RequestType)

	snap := f.state.Snapshot()
	require.Equal(t, int64(1), snap.TotalRequests)
	require.Equal(t, int64(0), snap.TotalRotations)
	require.Equal(t, "a@x.com", snap.CurrentAccount)
}

func TestForward_StreamUsesSSEURL(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(200, ``),
	}}
	f, _ := newTestForwarder(t, upstream, domain.Account{Email: "a@x.com"})

	result, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1",
		Model:       "gemini-2.5-flash",
		Request:     map[string]any{},
		Stream:      true,
	})
	require.NoError(t, err)
	result.Response.Body.Close()

	require.Equal(t, UpstreamBaseDaily+"/v1internal:streamGenerateContent?alt=sse", upstream.requests[0].URL)
	require.True(t, upstream.requests[0].Stream)
}

func TestForward_BaseOverride(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{upstreamJSON(200, ``)}}
	f, _ := newTestForwarder(t, upstream, domain.Account{Email: "a@x.com"})
	f.baseOverride = "https://example.test"

	result, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	require.NoError(t, err)
	result.Response.Body.Close()
	require.Equal(t, "https://example.test/v1internal:generateContent", upstream.requests[0].URL)
}

func TestForward_RetriesRateLimitThenSucceeds(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(429, `{"error":{"message":"rate limited"}}`),
		upstreamJSON(200, `{"response":{}}`),
	}}
	f, _ := newTestForwarder(t, upstream,
		domain.Account{Email: "a@x.com"},
		domain.Account{Email: "b@x.com"},
	)

	result, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	require.NoError(t, err)
	result.Response.Body.Close()

	require.Len(t, upstream.requests, 2)
	// 换号后第二次用的是另一个账号的 token
	require.NotEqual(t, upstream.requests[0].Headers["authorization"], upstream.requests[1].Headers["authorization"])
	require.Equal(t, int64(1), f.state.Snapshot().TotalRotations)
}

func TestForward_RetriesTransportError(t *testing.T) {
	upstream := &fakeUpstream{
		errs:      []error{errors.New("connection reset")},
		responses: []*UpstreamResponse{nil, upstreamJSON(200, `{}`)},
	}
	f, pool := newTestForwarder(t, upstream,
		domain.Account{Email: "a@x.com"},
		domain.Account{Email: "b@x.com"},
	)

	result, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	require.NoError(t, err)
	result.Response.Body.Close()
	require.Len(t, upstream.requests, 2)

	// 网络故障是临时退避，账号不会被标成耗尽
	for _, s := range pool.Statuses(context.Background()) {
		require.NotEqual(t, PoolStatusExhausted, s.Status)
		if s.Email == "a@x.com" {
			require.Equal(t, PoolStatusRateLimited, s.Status)
		}
	}
}

func TestForward_NonRetryableErrorReturnsImmediately(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(400, `{"error":{"message":"invalid argument"}}`),
	}}
	f, _ := newTestForwarder(t, upstream,
		domain.Account{Email: "a@x.com"},
		domain.Account{Email: "b@x.com"},
	)

	_, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 400, fe.StatusCode)
	require.Equal(t, UpstreamErrUnknown, fe.Kind)
	require.Equal(t, "invalid argument", fe.Message)
	require.Len(t, upstream.requests, 1)
}

func TestForward_AllAccountsExhausted(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(429, `{"error":{"message":"rate limited"}}`),
		upstreamJSON(429, `{"error":{"message":"rate limited"}}`),
	}}
	f, _ := newTestForwarder(t, upstream,
		domain.Account{Email: "a@x.com"},
		domain.Account{Email: "b@x.com"},
	)

	_, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	// 限流打穿预算后对外还是 429，客户端按限流语义退避
	require.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	require.Equal(t, UpstreamErrRateLimit, fe.Kind)
	require.Equal(t, "All accounts exhausted", fe.Message)
	require.Len(t, upstream.requests, 2)
}

func TestForward_QuotaExhaustedBudget(t *testing.T) {
	upstream := &fakeUpstream{responses: []*UpstreamResponse{
		upstreamJSON(403, `{"error":{"status":"RESOURCE_EXHAUSTED","message":"quota"}}`),
	}}
	f, pool := newTestForwarder(t, upstream, domain.Account{Email: "a@x.com"})

	_, err := f.Forward(context.Background(), &ForwardInput{
		Fingerprint: "fp-1", Model: "m", Request: map[string]any{},
	})
	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	require.Equal(t, UpstreamErrQuotaExhausted, fe.Kind)
	require.Equal(t, "Quota exhausted, rotating account", fe.Message)
	require.Len(t, upstream.requests, 1)

	// 配额 403 打的是耗尽标记而不是 60 秒限流标记
	statuses := pool.Statuses(context.Background())
	require.Len(t, statuses, 1)
	require.Equal(t, PoolStatusExhausted, statuses[0].Status)
}

func TestForwarderMaxAttempts(t *testing.T) {
	tests := []struct {
		poolSize int
		want     int
	}{
		{0, 1}, {1, 1}, {3, 3}, {5, 5}, {9, 5},
	}
	for _, tt := range tests {
		accounts := make([]domain.Account, tt.poolSize)
		for i := range accounts {
			accounts[i] = domain.Account{Email: string(rune('a'+i)) + "@x.com"}
		}
		pool, _, _ := newTestPool(t, ScheduleModeBalance, accounts...)
		f := NewForwarder(pool, &fakeUpstream{}, newTestSettings(nil), 0)
		require.Equal(t, tt.want, f.maxAttempts(), "pool size %d", tt.poolSize)
	}
}

func TestUpstreamErrorMessage_RedactsTokens(t *testing.T) {
	body := []byte(`{"error":{"message":"request with Bearer ya29.secret-token was rejected"}}`)
	msg := upstreamErrorMessage(body)
	require.NotContains(t, msg, "ya29.secret-token")
	require.Contains(t, msg, "Bearer ***")
}
