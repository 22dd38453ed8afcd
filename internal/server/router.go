// Package server 组装 gin 路由与 HTTP 服务。
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/handler"
	"github.com/Tonwed/NullGravity/internal/handler/admin"
	"github.com/Tonwed/NullGravity/internal/server/middleware"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewRouter, NewHTTPServer)

// NewRouter 注册全部路由。
//
// /v1/* 走 OpenAI / Anthropic 兼容协议，/api/* 是管理端，
// 其余路径（主要是 /v1internal:*）整体透传给上游。
func NewRouter(
	cfg *config.Config,
	auth middleware.APIKeyAuth,
	openaiHandler *handler.OpenAIGatewayHandler,
	anthropicHandler *handler.AnthropicGatewayHandler,
	passthroughHandler *handler.PassthroughHandler,
	proxyHandler *admin.ProxyHandler,
	accountHandler *admin.AccountHandler,
	mappingHandler *admin.MappingHandler,
	settingHandler *admin.SettingHandler,
	tokenHandler *admin.TokenHandler,
) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.AccessLog())

	v1 := engine.Group("/v1", gin.HandlerFunc(auth))
	{
		v1.GET("/models", openaiHandler.ListModels)
		v1.POST("/chat/completions", openaiHandler.ChatCompletions)
		v1.POST("/messages", anthropicHandler.Messages)
	}

	api := engine.Group("/api", gin.HandlerFunc(auth))
	{
		proxy := api.Group("/proxy")
		{
			proxy.GET("/status", proxyHandler.Status)
			proxy.POST("/refresh-pool", proxyHandler.RefreshPool)
			proxy.GET("/pool", proxyHandler.Pool)
			proxy.GET("/logs", proxyHandler.ListLogs)
			proxy.DELETE("/logs", proxyHandler.ClearLogs)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("", accountHandler.List)
			accounts.POST("", accountHandler.Create)
			accounts.GET("/:id", accountHandler.Get)
			accounts.PATCH("/:id/disabled", accountHandler.SetDisabled)
			accounts.POST("/:id/sync", accountHandler.Sync)
		}

		mappings := api.Group("/mappings")
		{
			mappings.GET("", mappingHandler.List)
			mappings.POST("", mappingHandler.Create)
			mappings.PUT("/:id", mappingHandler.Update)
			mappings.DELETE("/:id", mappingHandler.Delete)
		}

		settings := api.Group("/settings")
		{
			settings.GET("", settingHandler.Get)
			settings.PUT("", settingHandler.Update)
		}

		tokens := api.Group("/tokens")
		{
			tokens.GET("", tokenHandler.List)
			tokens.POST("", tokenHandler.Create)
			tokens.PATCH("/:id/active", tokenHandler.SetActive)
			tokens.DELETE("/:id", tokenHandler.Delete)
		}
	}

	// 未命中的路径整体透传给上游（gin 路由树也不认 "/v1internal:method"
	// 这种带冒号的路径）。管理端前缀除外，打错的管理请求不该发到上游。
	engine.NoRoute(func(c *gin.Context) {
		if isAdminPath(c.Request.URL.Path) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
				"type":    "not_found_error",
				"message": "Not found",
			}})
			return
		}
		passthroughHandler.Proxy(c)
	})

	return engine
}

// isAdminPath 管理端名字空间，未命中也不透传。
func isAdminPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// NewHTTPServer 创建 HTTP 服务。流式转发要求不设全局写超时。
func NewHTTPServer(cfg *config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
