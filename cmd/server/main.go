package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

func main() {
	app, cleanup, err := initializeApplication()
	if err != nil {
		log.Fatalf("initialize application: %v", err)
	}
	defer cleanup()

	ctx := context.Background()
	if err := app.Settings.InitializeDefaultSettings(ctx); err != nil {
		logger.L().Warn("settings_initialize_failed", zap.Error(err))
	}
	if err := app.Pool.Refresh(ctx); err != nil {
		logger.L().Warn("account_pool_initial_load_failed", zap.Error(err))
	}
	if err := app.Refresher.Start(); err != nil {
		logger.L().Fatal("token_refresher_start_failed", zap.Error(err))
	}

	go func() {
		logger.L().Info("server_listening", zap.String("addr", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal("server_listen_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info("server_shutting_down")

	app.Refresher.Stop()
	app.Cleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		logger.L().Error("server_shutdown_failed", zap.Error(err))
	}
	logger.L().Info("server_stopped")
	_ = app.Logger.Sync()
}
