package service

import (
	"context"
	"fmt"

	"github.com/Tonwed/NullGravity/internal/util/logredact"
)

// CodeAssist 同步路径的用户代理。
// generic_cli 流程模拟 IDE 插件，native 流程用 WireUserAgent。
const SyncUserAgentCLI = "Goland/2024.1"

// CodeAssistError 上游 CodeAssist 接口的非 200 响应
type CodeAssistError struct {
	Method     string
	StatusCode int
	Body       []byte
}

func (e *CodeAssistError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Method, e.StatusCode, truncateForLog(e.Body))
}

func truncateForLog(body []byte) string {
	s := logredact.RedactText(string(body))
	if len(s) > 256 {
		return s[:256]
	}
	return s
}

// CodeAssistClient 同步/onboard 路径的上游客户端，由 repository 层实现。
// 与热路径的 UpstreamClient 完全分离，两边的连接形态互不影响。
type CodeAssistClient interface {
	// Post 调用 {endpoint}/v1internal:{method}，非 200 返回 *CodeAssistError。
	Post(ctx context.Context, endpoint, method, accessToken, userAgent string, body any) ([]byte, error)
	// GetOperation 轮询长操作 {endpoint}/v1internal/{name}
	GetOperation(ctx context.Context, endpoint, name, accessToken, userAgent string) ([]byte, error)
}
