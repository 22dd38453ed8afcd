package service

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// 上游端点。daily 承载 API 反代流量，prod 用于 generic_cli 凭据的配额同步，
// sandbox 是 generic_cli onboard 流程的入口。
const (
	UpstreamBaseDaily   = "https://daily-cloudcode-pa.googleapis.com"
	UpstreamBaseProd    = "https://cloudcode-pa.googleapis.com"
	UpstreamBaseSandbox = "https://daily-cloudcode-pa.sandbox.googleapis.com"

	upstreamAPIVersion = "v1internal"
)

// FallbackProjectID 上游在 loadCodeAssist 未返回项目时使用的公共兜底项目
const FallbackProjectID = "bamboo-precept-lgxtn"

const (
	clientVersion      = "1.18.4"
	wireUserAgentShort = "antigravity"
	xGoogAPIClient     = "gl-go/1.27.0 grpc-go/1.80.0-dev"
)

// UpstreamBaseFor 通道名到端点的映射
func UpstreamBaseFor(channel string) string {
	if channel == UpstreamChannelProd {
		return UpstreamBaseProd
	}
	return UpstreamBaseDaily
}

// UpstreamMethodURL 拼接 v1internal RPC 地址，method 形如 generateContent。
func UpstreamMethodURL(base, method string) string {
	return fmt.Sprintf("%s/%s:%s", base, upstreamAPIVersion, method)
}

// WireUserAgent 反代流量的 User-Agent，与官方客户端保持一致。
func WireUserAgent() string {
	return fmt.Sprintf("%s/%s %s/%s", wireUserAgentShort, clientVersion, runtime.GOOS, runtime.GOARCH)
}

// ProxyHeaders 反代热路径的请求头。
// 全小写键名是刻意的：上游对头部指纹敏感，大小写混排会触发 403。
func ProxyHeaders(accessToken, projectID string) map[string]string {
	headers := map[string]string{
		"content-type":      "application/json",
		"authorization":     "Bearer " + accessToken,
		"user-agent":        WireUserAgent(),
		"x-goog-api-client": xGoogAPIClient,
	}
	if projectID != "" {
		headers["x-goog-request-params"] = "project=" + projectID
	}
	return headers
}

// NewWireRequestID 生成上游要求的请求 ID：agent/<毫秒时间戳>/<uuid>/0
func NewWireRequestID() string {
	return fmt.Sprintf("agent/%d/%s/0", time.Now().UnixMilli(), uuid.NewString())
}

// WireEnvelope v1internal 请求外壳
type WireEnvelope struct {
	Project     string `json:"project,omitempty"`
	RequestID   string `json:"requestId"`
	Request     any    `json:"request"`
	Model       string `json:"model,omitempty"`
	UserAgent   string `json:"userAgent"`
	RequestType string `json:"requestType"`
}

// NewWireEnvelope 包装一次 generateContent 请求
func NewWireEnvelope(projectID, model string, request any) *WireEnvelope {
	return &WireEnvelope{
		Project:     projectID,
		RequestID:   NewWireRequestID(),
		Request:     request,
		Model:       model,
		UserAgent:   wireUserAgentShort,
		RequestType: "agent",
	}
}
