//go:build unit

package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/service"
)

func TestApplyMigrations_Idempotent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	// NewDB 已经应用过迁移，重复应用必须是空操作
	require.NoError(t, ApplyMigrations(context.Background(), db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 2, count)
}

func TestSettingRepository_RoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	repo := NewSettingRepository(db)
	ctx := context.Background()

	_, err = repo.GetValue(ctx, "missing")
	require.ErrorIs(t, err, service.ErrSettingNotFound)

	require.NoError(t, repo.Set(ctx, "upstream_channel", "daily"))
	v, err := repo.GetValue(ctx, "upstream_channel")
	require.NoError(t, err)
	require.Equal(t, "daily", v)

	// upsert 覆盖旧值
	require.NoError(t, repo.Set(ctx, "upstream_channel", "prod"))
	v, err = repo.GetValue(ctx, "upstream_channel")
	require.NoError(t, err)
	require.Equal(t, "prod", v)

	require.NoError(t, repo.SetMultiple(ctx, map[string]string{"a": "1", "b": "2"}))
	got, err := repo.GetMultiple(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, repo.Delete(ctx, "a"))
	_, err = repo.GetValue(ctx, "a")
	require.ErrorIs(t, err, service.ErrSettingNotFound)
}

func TestAccountRepository_RoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	repo := NewAccountRepository(db)
	ctx := context.Background()

	frac := 0.4
	created, err := repo.Create(ctx, &domain.Account{
		Email: "a@x.com",
		Tier:  "free-tier",
		QuotaBuckets: []domain.ModelQuota{
			{Name: "gemini-3-pro-high", RemainingFraction: &frac},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", got.Email)
	require.Len(t, got.QuotaBuckets, 1)
	require.Equal(t, 0.4, *got.QuotaBuckets[0].RemainingFraction)

	_, err = repo.GetByID(ctx, 9999)
	require.ErrorIs(t, err, service.ErrAccountNotFound)

	// 凭据读写
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, repo.UpsertCredential(ctx, &domain.Credential{
		AccountID:      created.ID,
		Kind:           domain.CredentialKindNative,
		AccessToken:    "at-1",
		RefreshToken:   "1//rt",
		TokenExpiresAt: &expires,
		ProjectID:      "proj-1",
	}))

	cred, err := repo.GetCredential(ctx, created.ID, domain.CredentialKindNative)
	require.NoError(t, err)
	require.Equal(t, "at-1", cred.AccessToken)
	require.Equal(t, "proj-1", cred.ProjectID)

	_, err = repo.GetCredential(ctx, created.ID, domain.CredentialKindGenericCLI)
	require.ErrorIs(t, err, service.ErrCredentialNotFound)

	// 同一 (account, kind) 再写是更新而不是新增
	require.NoError(t, repo.UpsertCredential(ctx, &domain.Credential{
		AccountID:    created.ID,
		Kind:         domain.CredentialKindNative,
		AccessToken:  "at-2",
		RefreshToken: "1//rt",
	}))
	creds, err := repo.ListCredentials(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, "at-2", creds[0].AccessToken)

	// 刷新后的 token 持久化
	newExpiry := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	require.NoError(t, repo.UpdateCredentialToken(ctx, creds[0].ID, "at-3", &newExpiry))
	cred, err = repo.GetCredential(ctx, created.ID, domain.CredentialKindNative)
	require.NoError(t, err)
	require.Equal(t, "at-3", cred.AccessToken)
	require.NotNil(t, cred.LastSyncAt)

	// 冻结清空 token
	require.NoError(t, repo.FreezeCredential(ctx, creds[0].ID))
	cred, err = repo.GetCredential(ctx, created.ID, domain.CredentialKindNative)
	require.NoError(t, err)
	require.Empty(t, cred.AccessToken)
	require.Nil(t, cred.TokenExpiresAt)
	require.True(t, cred.Frozen())

	// 禁用账号后不再出现在活跃列表
	require.NoError(t, repo.SetDisabled(ctx, created.ID, true))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestModelMappingRepository_RoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	repo := NewModelMappingRepository(db)
	ctx := context.Background()

	low, err := repo.Create(ctx, &domain.ModelMapping{Pattern: "*", Target: "fallback", Priority: 1, IsActive: true})
	require.NoError(t, err)
	high, err := repo.Create(ctx, &domain.ModelMapping{Pattern: "gpt-*", Target: "gemini-2.5-pro", Priority: 10, IsActive: true})
	require.NoError(t, err)
	inactive, err := repo.Create(ctx, &domain.ModelMapping{Pattern: "x", Target: "y", Priority: 99, IsActive: false})
	require.NoError(t, err)

	// 活跃规则按优先级从高到低
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, high.ID, active[0].ID)
	require.Equal(t, low.ID, active[1].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	high.Target = "gemini-3-pro-high"
	updated, err := repo.Update(ctx, high)
	require.NoError(t, err)
	require.Equal(t, "gemini-3-pro-high", updated.Target)

	require.NoError(t, repo.Delete(ctx, inactive.ID))
	_, err = repo.GetByID(ctx, inactive.ID)
	require.ErrorIs(t, err, service.ErrModelMappingNotFound)
}

func TestRequestLogRepository_RoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	repo := NewRequestLogRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, &domain.RequestLog{
			Method:       "POST",
			Path:         "/v1/chat/completions",
			Protocol:     "openai",
			Model:        "gemini-2.5-flash",
			StatusCode:   200,
			DurationMs:   12.5,
			InputTokens:  10,
			OutputTokens: 5,
			AccountEmail: "a@x.com",
			CreatedAt:    time.Now().UTC(),
		}))
	}

	logs, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "openai", logs[0].Protocol)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	require.NoError(t, repo.Clear(ctx))
	count, err = repo.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAPITokenRepository_RoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, cleanup, err := NewDB(cfg)
	require.NoError(t, err)
	defer cleanup()

	repo := NewAPITokenRepository(db)
	ctx := context.Background()

	_, err = repo.GetByToken(ctx, "sk-missing")
	require.ErrorIs(t, err, service.ErrAPITokenNotFound)

	created, err := repo.Create(ctx, &domain.APIToken{Name: "ci", Token: "sk-abc", IsActive: true})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.True(t, created.IsActive)
	require.Nil(t, created.LastUsedAt)

	got, err := repo.GetByToken(ctx, "sk-abc")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "ci", got.Name)

	// 使用量累计并刷新 last_used_at
	require.NoError(t, repo.MarkUsed(ctx, created.ID))
	require.NoError(t, repo.MarkUsed(ctx, created.ID))
	got, err = repo.GetByToken(ctx, "sk-abc")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.UsageCount)
	require.NotNil(t, got.LastUsedAt)

	// 停用后仍可读出，放行与否由服务层判断
	require.NoError(t, repo.SetActive(ctx, created.ID, false))
	got, err = repo.GetByToken(ctx, "sk-abc")
	require.NoError(t, err)
	require.False(t, got.IsActive)

	tokens, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	require.ErrorIs(t, repo.Delete(ctx, created.ID), service.ErrAPITokenNotFound)
	require.ErrorIs(t, repo.SetActive(ctx, created.ID, true), service.ErrAPITokenNotFound)
}
