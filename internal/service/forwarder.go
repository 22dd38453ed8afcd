package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/util/logredact"
)

// 上游错误分类。决定重试策略和打给账号的标记。
const (
	UpstreamErrRateLimit         = "RATE_LIMIT"
	UpstreamErrQuotaExhausted    = "QUOTA_EXHAUSTED"
	UpstreamErrCapacityExhausted = "CAPACITY_EXHAUSTED"
	UpstreamErrModelNotFound     = "MODEL_NOT_FOUND"
	UpstreamErrUnauthenticated   = "UNAUTHENTICATED"
	UpstreamErrUnknown           = "UNKNOWN"
)

// 轮转原因，落在日志里。
const (
	RotateReasonRateLimit    = "rate_limit"
	RotateReasonQuota        = "quota_exhausted"
	RotateReasonCapacity     = "capacity_exhausted"
	RotateReasonModelMissing = "model_not_found"
	RotateReasonTransport    = "transport_error"
)

// 上游 RPC 方法名
const (
	MethodGenerateContent       = "generateContent"
	MethodStreamGenerateContent = "streamGenerateContent"
)

// UpstreamRequest 一次上游调用的全部参数
type UpstreamRequest struct {
	// Method 为空时按 POST 发送
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	Stream   bool
	ProxyURL string
	Timeout  time.Duration
}

// UpstreamResponse 上游响应。Body 由调用方关闭。
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// UpstreamClient 上游 HTTP 客户端接口，由 repository 层实现。
type UpstreamClient interface {
	Do(ctx context.Context, req *UpstreamRequest) (*UpstreamResponse, error)
}

// ForwardError 转发失败的最终结果
type ForwardError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("upstream error: status=%d kind=%s message=%s", e.StatusCode, e.Kind, e.Message)
}

// ErrAllAccountsExhausted 重试预算耗尽后的兜底错误。
// OpenAI 入口渲染为 503，Anthropic 入口渲染为 529。
var ErrAllAccountsExhausted = &ForwardError{
	StatusCode: http.StatusServiceUnavailable,
	Kind:       UpstreamErrCapacityExhausted,
	Message:    "All accounts exhausted",
}

// ForwardInput 协议转换层产出的上游请求
type ForwardInput struct {
	Fingerprint string
	Model       string
	Request     any
	Stream      bool
}

// ForwardResult 成功转发的结果，Response.Body 由调用方消费并关闭。
type ForwardResult struct {
	Account  *PoolAccount
	Response *UpstreamResponse
}

// Forwarder 把网关请求送往上游，失败时在账号间轮转重试。
type Forwarder struct {
	pool     *AccountPool
	client   UpstreamClient
	settings *SettingService
	timeout  time.Duration
	// baseOverride 非空时固定上游地址，忽略 settings 的 upstream 切换
	baseOverride string
	state        *ProxyState
}

// NewForwarder 创建转发器
func NewForwarder(pool *AccountPool, client UpstreamClient, settings *SettingService, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Forwarder{pool: pool, client: client, settings: settings, timeout: timeout}
}

// maxAttempts 重试预算：池大小封顶 5 次，至少 1 次。
func (f *Forwarder) maxAttempts() int {
	n := f.pool.Size()
	if n > 5 {
		n = 5
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Forward 执行带轮转重试的上游调用。
//
// 每次尝试独立选号：选中的账号先过 cooldown，再记一次放行。
// 401 刷新池后换号重试，404/429/503 直接换号重试，其余状态原样透传给调用方。
func (f *Forwarder) Forward(ctx context.Context, in *ForwardInput) (*ForwardResult, error) {
	body := in.Request
	attempts := f.maxAttempts()

	method := MethodGenerateContent
	if in.Stream {
		method = MethodStreamGenerateContent
	}
	base := f.baseOverride
	if base == "" {
		base = UpstreamBaseFor(f.settings.GetUpstreamChannel(ctx))
	}
	url := UpstreamMethodURL(base, method)
	if in.Stream {
		url += "?alt=sse"
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

		projectID := acct.Credential.ProjectID
		if projectID == "" {
			projectID = FallbackProjectID
		}
		envelope := NewWireEnvelope(projectID, in.Model, body)
		payload, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("marshal upstream envelope: %w", err)
		}

		resp, err := f.client.Do(ctx, &UpstreamRequest{
			URL:      url,
			Headers:  ProxyHeaders(acct.Credential.AccessToken, projectID),
			Body:     payload,
			Stream:   in.Stream,
			ProxyURL: proxyURL,
			Timeout:  f.timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.L().Warn("upstream_request_failed",
				zap.Int64("account_id", acct.Account.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			lastErr = &ForwardError{StatusCode: http.StatusBadGateway, Kind: UpstreamErrUnknown, Message: err.Error()}
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonTransport)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &ForwardResult{Account: acct, Response: resp}, nil
		}

		errBody := readLimitedBody(resp.Body)
		kind := ClassifyUpstreamError(resp.StatusCode, errBody)
		lastErr = &ForwardError{StatusCode: resp.StatusCode, Kind: kind, Message: upstreamErrorMessage(errBody)}
		logger.L().Warn("upstream_error",
			zap.Int64("account_id", acct.Account.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind))

		switch kind {
		case UpstreamErrUnauthenticated:
			// access token 失效，重新加载凭据后原号重试
			if err := f.pool.Refresh(ctx); err != nil {
				logger.L().Error("account_pool_refresh_failed", zap.Error(err))
			}
		case UpstreamErrRateLimit:
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonRateLimit)
		case UpstreamErrQuotaExhausted:
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonQuota)
		case UpstreamErrCapacityExhausted:
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonCapacity)
		case UpstreamErrModelNotFound:
			f.rotate(ctx, in.Fingerprint, acct.Account.ID, RotateReasonModelMissing)
		default:
			// 不可重试的上游错误，原样交给协议层渲染
			return nil, lastErr
		}
	}

	if lastErr != nil {
		// 重试预算用光。限流和配额类对外仍是 429，客户端按限流语义重试；
		// 其余折算成过载。
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

// rotate 换号并累计轮转计数。
func (f *Forwarder) rotate(ctx context.Context, fingerprint string, accountID int64, reason string) {
	f.pool.Rotate(ctx, fingerprint, accountID, reason)
	if f.state != nil {
		f.state.MarkRotation()
	}
}

// readLimitedBody 读取错误响应体，封顶 64KB。
func readLimitedBody(rc io.ReadCloser) []byte {
	if rc == nil {
		return nil
	}
	defer rc.Close()
	data, _ := io.ReadAll(io.LimitReader(rc, 64<<10))
	return data
}

// ClassifyUpstreamError 按状态码和响应体归类上游错误。
// 403 和 503 只有带上配额/容量标记才算可轮转，普通 403/503 原样透出。
func ClassifyUpstreamError(statusCode int, body []byte) string {
	lower := strings.ToLower(string(body))

	switch statusCode {
	case http.StatusUnauthorized:
		return UpstreamErrUnauthenticated
	case http.StatusNotFound:
		return UpstreamErrModelNotFound
	case http.StatusTooManyRequests:
		return UpstreamErrRateLimit
	case http.StatusForbidden:
		if strings.Contains(string(body), "RESOURCE_EXHAUSTED") || strings.Contains(lower, "quota") {
			return UpstreamErrQuotaExhausted
		}
		return UpstreamErrUnknown
	case http.StatusServiceUnavailable:
		if strings.Contains(string(body), "CAPACITY_EXHAUSTED") || strings.Contains(lower, "capacity") {
			return UpstreamErrCapacityExhausted
		}
		return UpstreamErrUnknown
	}
	if gjson.GetBytes(body, "error.status").String() == "UNAUTHENTICATED" {
		return UpstreamErrUnauthenticated
	}
	return UpstreamErrUnknown
}

func upstreamErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return logredact.RedactText(msg)
	}
	if len(body) == 0 {
		return "upstream error"
	}
	s := string(body)
	if len(s) > 512 {
		s = s[:512]
	}
	return logredact.RedactText(s)
}
