package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

func newBytesReadCloser(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// hopByHopHeaders 逐跳头，透传时一律剥掉。
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// strippedInboundHeaders 透传时由代理自己接管的入站头。
var strippedInboundHeaders = map[string]struct{}{
	"host":           {},
	"authorization":  {},
	"content-length": {},
}

// RawForwardInput /v1internal 透传请求。
type RawForwardInput struct {
	Fingerprint string
	Method      string
	Path        string
	RawQuery    string
	Headers     http.Header
	Body        []byte
}

// ForwardRaw 透传任意 v1internal 调用：替换鉴权头后原样转发，
// 429 和配额 403 换号重试，其余响应原样回传。
func (f *Forwarder) ForwardRaw(ctx context.Context, in *RawForwardInput) (*ForwardResult, error) {
	attempts := f.maxAttempts()

	base := f.baseOverride
	if base == "" {
		base = UpstreamBaseFor(f.settings.GetUpstreamChannel(ctx))
	}
	url := base + "/" + strings.TrimPrefix(in.Path, "/")
	if in.RawQuery != "" {
		url += "?" + in.RawQuery
	}
	proxyURL := f.settings.GetProxyURL(ctx)

	var lastErr *ForwardError
	for attempt := 0; attempt < attempts; attempt++ {
		acct, err := f.pool.Get(ctx, in.Fingerprint)
		if err != nil {
			return nil, err
		}
		if err := f.pool.WaitCooldown(ctx, acct.Account.ID); err != nil {
			return nil, err
		}
		f.pool.MarkRequest(acct.Account.ID)
		if f.state != nil {
			f.state.MarkRequest(acct.Account.ID, acct.Account.Email)
		}

		resp, err := f.client.Do(ctx, &UpstreamRequest{
			Method:   in.Method,
			URL:      url,
			Headers:  passthroughHeaders(in.Headers, acct),
			Body:     in.Body,
			Stream:   true,
			ProxyURL: proxyURL,
			Timeout:  f.timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.L().Warn("passthrough_request_failed",
				zap.Int64("account_id", acct.Account.ID),
				zap.String("path", in.Path),
				zap.Error(err))
			lastErr = &ForwardError{StatusCode: http.StatusBadGateway, Kind: UpstreamErrUnknown, Message: err.Error()}
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonTransport)
			continue
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			errBody := readLimitedBody(resp.Body)
			lastErr = &ForwardError{StatusCode: resp.StatusCode, Kind: UpstreamErrRateLimit, Message: upstreamErrorMessage(errBody)}
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonRateLimit)
			continue
		case http.StatusForbidden:
			errBody := readLimitedBody(resp.Body)
			text := strings.ToLower(string(errBody))
			if strings.Contains(string(errBody), "RESOURCE_EXHAUSTED") || strings.Contains(text, "quota") {
				lastErr = &ForwardError{StatusCode: resp.StatusCode, Kind: UpstreamErrQuotaExhausted, Message: upstreamErrorMessage(errBody)}
				f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonQuota)
				continue
			}
			// 非配额 403 原样回传，响应体已读出
			return &ForwardResult{Account: acct, Response: &UpstreamResponse{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       newBytesReadCloser(errBody),
			}}, nil
		}

		return &ForwardResult{Account: acct, Response: resp}, nil
	}

	if lastErr != nil {
		final := &ForwardError{
			StatusCode: http.StatusServiceUnavailable,
			Kind:       lastErr.Kind,
			Message:    "All accounts exhausted",
		}
		switch lastErr.Kind {
		case UpstreamErrQuotaExhausted:
			final.StatusCode = http.StatusTooManyRequests
			final.Message = "Quota exhausted, rotating account"
		case UpstreamErrRateLimit:
			final.StatusCode = http.StatusTooManyRequests
		}
		return nil, final
	}
	return nil, ErrAllAccountsExhausted
}

// passthroughHeaders 过滤入站头并注入账号鉴权与指纹头。
func passthroughHeaders(inbound http.Header, acct *PoolAccount) map[string]string {
	out := make(map[string]string, len(inbound)+3)
	for name, values := range inbound {
		key := strings.ToLower(name)
		if _, drop := hopByHopHeaders[key]; drop {
			continue
		}
		if _, drop := strippedInboundHeaders[key]; drop {
			continue
		}
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	out["authorization"] = "Bearer " + acct.Credential.AccessToken
	out["x-goog-api-client"] = xGoogAPIClient
	// 没有 project id 时不发这个头，空值会被上游当成非法参数
	if acct.Credential.ProjectID != "" {
		out["x-goog-request-params"] = "project=" + acct.Credential.ProjectID
	}
	return out
}
