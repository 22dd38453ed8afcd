package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// CredentialInput 导入账号时的单个凭据
type CredentialInput struct {
	Kind         string `json:"kind"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
}

// CreateAccountInput 导入账号请求
type CreateAccountInput struct {
	Email       string            `json:"email"`
	Label       string            `json:"label,omitempty"`
	Credentials []CredentialInput `json:"credentials"`
}

// AccountService 账号管理：导入、启停、触发同步。
type AccountService struct {
	repo AccountRepository
	sync *AccountSyncService
	pool *AccountPool
}

// NewAccountService 创建账号管理服务
func NewAccountService(repo AccountRepository, sync *AccountSyncService, pool *AccountPool) *AccountService {
	return &AccountService{repo: repo, sync: sync, pool: pool}
}

// List 全部账号
func (s *AccountService) List(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAll(ctx)
}

// Get 单个账号及其凭据
func (s *AccountService) Get(ctx context.Context, id int64) (*domain.Account, []domain.Credential, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	creds, err := s.repo.ListCredentials(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	// 凭据明细不外带 token
	for i := range creds {
		creds[i].AccessToken = ""
		creds[i].RefreshToken = ""
	}
	return account, creds, nil
}

// Create 导入账号及其 OAuth 凭据，随后同步并刷新调度池。
// Google 的 refresh token 以 "1//" 开头，其他内容直接拒绝。
func (s *AccountService) Create(ctx context.Context, input *CreateAccountInput) (*domain.Account, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, infraerrors.BadRequest("ACCOUNT_EMAIL_REQUIRED", "email is required")
	}

	var creds []CredentialInput
	for _, c := range input.Credentials {
		if !strings.HasPrefix(c.RefreshToken, "1//") {
			continue
		}
		switch c.Kind {
		case domain.CredentialKindNative, domain.CredentialKindGenericCLI:
			creds = append(creds, c)
		}
	}
	if len(creds) == 0 {
		return nil, infraerrors.BadRequest("ACCOUNT_CREDENTIALS_REQUIRED", "at least one valid credential is required")
	}

	account, err := s.repo.Create(ctx, &domain.Account{Email: email, Label: strings.TrimSpace(input.Label)})
	if err != nil {
		return nil, err
	}

	for _, c := range creds {
		if err := s.repo.UpsertCredential(ctx, &domain.Credential{
			AccountID:    account.ID,
			Kind:         c.Kind,
			RefreshToken: c.RefreshToken,
			AccessToken:  c.AccessToken,
			ProjectID:    c.ProjectID,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.sync.SyncAccount(ctx, account.ID); err != nil {
		logger.L().Warn("account_initial_sync_failed", zap.Int64("account_id", account.ID), zap.Error(err))
	}
	if err := s.pool.Refresh(ctx); err != nil {
		logger.L().Warn("account_pool_reload_failed", zap.Error(err))
	}

	return s.repo.GetByID(ctx, account.ID)
}

// SetDisabled 启停账号并刷新调度池
func (s *AccountService) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetDisabled(ctx, id, disabled); err != nil {
		return err
	}
	return s.pool.Refresh(ctx)
}

// Sync 手动触发单账号同步并刷新调度池
func (s *AccountService) Sync(ctx context.Context, id int64) error {
	if err := s.sync.SyncAccount(ctx, id); err != nil {
		return err
	}
	return s.pool.Refresh(ctx)
}
