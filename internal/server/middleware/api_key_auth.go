package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/service"
)

// APIKeyAuth 网关访问令牌校验中间件。
type APIKeyAuth gin.HandlerFunc

// NewAPIKeyAuth 创建令牌校验中间件。
//
// 令牌来源有三个：配置文件里的 auth.tokens、settings 表的 api_tokens，
// 以及 api_tokens 表里管理端签发的令牌。后两者改动即时生效，数据库令牌
// 支持启停并累计使用量。令牌从 Authorization: Bearer 或 x-api-key 头提取。
func NewAPIKeyAuth(cfg *config.Config, settings *service.SettingService, tokens *service.APITokenService) APIKeyAuth {
	static := make(map[string]struct{}, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		static[strings.TrimSpace(t)] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token := extractToken(c)
		if token != "" && strings.HasPrefix(token, "sk-") {
			if _, ok := static[token]; ok {
				c.Next()
				return
			}
			for _, t := range settings.GetExtraAPITokens(c.Request.Context()) {
				if token == t {
					c.Next()
					return
				}
			}
			if tokens.Validate(c.Request.Context(), token) {
				c.Next()
				return
			}
		}

		// 错误体跟随入口协议
		if strings.HasPrefix(c.Request.URL.Path, "/v1/messages") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid API key",
				},
			})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"type":    "authentication_error",
				"message": "Invalid API key",
			},
		})
	}
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}
