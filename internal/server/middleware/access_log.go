package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/pkg/ip"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// AccessLog 结构化访问日志。流式请求在连接结束后才落一条。
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.L().Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ip.GetClientIP(c)),
		)
	}
}
