package service

import (
	"context"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
)

// Google OAuth 端点与两套客户端凭据。
// native 凭据用 Antigravity 官方客户端，generic_cli 凭据用 Gemini CLI 客户端。
const (
	GoogleTokenEndpoint = "https://oauth2.googleapis.com/token"

	antigravityClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	antigravityClientSecret = "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"

	geminiCLIClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiCLIClientSecret = "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"
)

// ErrTokenRevoked refresh token 已失效（invalid_grant / unauthorized_client），
// 对应凭据需要冻结等待重新授权。
var ErrTokenRevoked = infraerrors.Unauthorized("TOKEN_REVOKED", "refresh token revoked")

// OAuthClientFor 按凭据类型返回 OAuth 客户端凭据
func OAuthClientFor(kind string) (clientID, clientSecret string) {
	if kind == domain.CredentialKindNative {
		return antigravityClientID, antigravityClientSecret
	}
	return geminiCLIClientID, geminiCLIClientSecret
}

// TokenRefreshResult 刷新成功的产出
type TokenRefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// GoogleTokenClient Google OAuth token 接口客户端，由 repository 层实现。
// refresh token 失效时返回 ErrTokenRevoked。
type GoogleTokenClient interface {
	Refresh(ctx context.Context, kind, refreshToken string) (*TokenRefreshResult, error)
}
