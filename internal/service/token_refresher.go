package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// refreshStagger 同一轮刷新里两次 token 请求的间隔，避免触发 OAuth 限速。
const refreshStagger = 3 * time.Second

// TokenRefresher 周期性刷新 OAuth access token。
//
// cron 每分钟醒一次读设置再决定做不做，所以管理端改开关和间隔不用重启进程。
// 凭据在自己的刷新间隔内（last_sync_at 还新鲜）会被跳过。
type TokenRefresher struct {
	repo     AccountRepository
	tokens   GoogleTokenClient
	settings *SettingService
	sync     *AccountSyncService
	pool     *AccountPool

	cron    *cron.Cron
	running atomic.Bool
}

// NewTokenRefresher 创建刷新任务
func NewTokenRefresher(
	repo AccountRepository,
	tokens GoogleTokenClient,
	settings *SettingService,
	sync *AccountSyncService,
	pool *AccountPool,
) *TokenRefresher {
	return &TokenRefresher{
		repo:     repo,
		tokens:   tokens,
		settings: settings,
		sync:     sync,
		pool:     pool,
		cron:     cron.New(),
	}
}

// Start 启动定时任务
func (r *TokenRefresher) Start() error {
	if _, err := r.cron.AddFunc("@every 60s", r.tick); err != nil {
		return err
	}
	r.cron.Start()
	logger.L().Info("token_refresher_started")
	return nil
}

// Stop 停止定时任务，等待在途一轮结束。
func (r *TokenRefresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.L().Info("token_refresher_stopped")
}

func (r *TokenRefresher) tick() {
	// 上一轮还没跑完就跳过本次触发
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if !r.settings.IsAutoRefreshEnabled(ctx) {
		return
	}
	r.RunOnce(ctx)
}

// RunOnce 执行一轮刷新。管理端手动触发也走这里。
func (r *TokenRefresher) RunOnce(ctx context.Context) {
	interval := r.settings.GetAutoRefreshInterval(ctx)

	creds, err := r.repo.ListRefreshableCredentials(ctx)
	if err != nil {
		logger.L().Error("refresh_list_credentials_failed", zap.Error(err))
		return
	}

	// 按账号聚合：任一凭据刷新成功就重新同步该账号
	refreshedAccounts := make(map[int64]bool)
	refreshedAny := false

	for i := range creds {
		cred := &creds[i]
		if ctx.Err() != nil {
			return
		}
		if cred.RefreshToken == "" {
			continue
		}
		if !r.settings.IsKindRefreshEnabled(ctx, cred.Kind) {
			continue
		}
		if cred.LastSyncAt != nil && time.Since(*cred.LastSyncAt) < interval {
			continue
		}

		if refreshedAny {
			select {
			case <-ctx.Done():
				return
			case <-time.After(refreshStagger):
			}
		}
		refreshedAny = true

		if r.refreshCredential(ctx, cred) {
			refreshedAccounts[cred.AccountID] = true
		}
	}

	for accountID := range refreshedAccounts {
		if err := r.sync.SyncAccount(ctx, accountID); err != nil {
			logger.L().Warn("post_refresh_sync_failed",
				zap.Int64("account_id", accountID), zap.Error(err))
		}
	}

	if len(refreshedAccounts) > 0 {
		if err := r.pool.Refresh(ctx); err != nil {
			logger.L().Warn("post_refresh_pool_reload_failed", zap.Error(err))
		}
	}
}

// refreshCredential 刷新单个凭据。invalid_grant 冻结凭据等待重新授权。
func (r *TokenRefresher) refreshCredential(ctx context.Context, cred *domain.Credential) bool {
	result, err := r.tokens.Refresh(ctx, cred.Kind, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			logger.L().Warn("credential_revoked",
				zap.Int64("credential_id", cred.ID),
				zap.String("kind", cred.Kind))
			if freezeErr := r.repo.FreezeCredential(ctx, cred.ID); freezeErr != nil {
				logger.L().Error("credential_freeze_failed",
					zap.Int64("credential_id", cred.ID), zap.Error(freezeErr))
			}
			return false
		}
		logger.L().Warn("token_refresh_failed",
			zap.Int64("credential_id", cred.ID),
			zap.String("kind", cred.Kind),
			zap.Error(err))
		return false
	}

	expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	if err := r.repo.UpdateCredentialToken(ctx, cred.ID, result.AccessToken, &expiresAt); err != nil {
		logger.L().Error("credential_token_persist_failed",
			zap.Int64("credential_id", cred.ID), zap.Error(err))
		return false
	}

	logger.L().Info("token_refreshed",
		zap.Int64("credential_id", cred.ID),
		zap.String("kind", cred.Kind),
		zap.Int("expires_in", result.ExpiresIn))
	return true
}
