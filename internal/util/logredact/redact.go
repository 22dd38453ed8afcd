// Package logredact 在日志落盘前抹掉 OAuth 令牌与密钥。
package logredact

import "regexp"

var (
	jsonTokenRe  = regexp.MustCompile(`"(access_token|refresh_token|id_token|client_secret|api_key)"\s*:\s*"[^"]*"`)
	queryTokenRe = regexp.MustCompile(`(?i)\b(access_token|refresh_token|id_token|client_secret|api_key)=[^\s&"]+`)
	bearerRe     = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
)

// RedactText 把文本中的令牌类字段值替换为 ***。
// 上游错误体和第三方响应可能回显请求头，入日志前一律过一遍。
func RedactText(s string) string {
	s = jsonTokenRe.ReplaceAllString(s, `"$1":"***"`)
	s = queryTokenRe.ReplaceAllString(s, `$1=***`)
	s = bearerRe.ReplaceAllString(s, "Bearer ***")
	return s
}
