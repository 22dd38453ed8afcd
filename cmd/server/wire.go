//go:build wireinject
// +build wireinject

package main

import (
	"net/http"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/handler"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/repository"
	"github.com/Tonwed/NullGravity/internal/server"
	"github.com/Tonwed/NullGravity/internal/server/middleware"
	"github.com/Tonwed/NullGravity/internal/service"
)

// Application 聚合启动所需的各个部件。
type Application struct {
	Server    *http.Server
	Logger    *zap.Logger
	Settings  *service.SettingService
	Pool      *service.AccountPool
	Refresher *service.TokenRefresher
	Cleanup   func()
}

func initializeApplication() (*Application, func(), error) {
	wire.Build(
		// Infrastructure layer ProviderSets
		config.ProviderSet,
		provideLogger,

		// Business layer ProviderSets
		repository.ProviderSet,
		service.ProviderSet,
		middleware.ProviderSet,
		handler.ProviderSet,

		// Server layer ProviderSet
		server.ProviderSet,

		// Cleanup function provider
		provideCleanup,

		// Application struct
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.Init(cfg.Log)
}

// provideCleanup 停掉后台服务。数据库连接等基础资源由 wire 聚合的 cleanup 关闭。
func provideCleanup(sync *service.AccountSyncService) func() {
	return func() {
		sync.Stop()
	}
}
