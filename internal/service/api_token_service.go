package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// ErrAPITokenNotFound 令牌不存在
var ErrAPITokenNotFound = infraerrors.NotFound("API_TOKEN_NOT_FOUND", "api token not found")

// APITokenRepository 访问令牌仓储接口
type APITokenRepository interface {
	List(ctx context.Context) ([]domain.APIToken, error)
	GetByToken(ctx context.Context, token string) (*domain.APIToken, error)
	Create(ctx context.Context, token *domain.APIToken) (*domain.APIToken, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	MarkUsed(ctx context.Context, id int64) error
}

// APITokenService 网关访问令牌管理。令牌持久化在数据库里，
// 管理端可以启停单个令牌，每次放行累计使用量。
type APITokenService struct {
	repo APITokenRepository
}

// NewAPITokenService 创建访问令牌服务
func NewAPITokenService(repo APITokenRepository) *APITokenService {
	return &APITokenService{repo: repo}
}

// Validate 校验令牌是否存在且处于启用状态，命中时记一次使用。
func (s *APITokenService) Validate(ctx context.Context, token string) bool {
	t, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if !infraerrors.IsNotFound(err) {
			logger.L().Warn("api_token_lookup_failed", zap.Error(err))
		}
		return false
	}
	if !t.IsActive {
		return false
	}
	if err := s.repo.MarkUsed(ctx, t.ID); err != nil {
		logger.L().Warn("api_token_usage_update_failed",
			zap.Int64("token_id", t.ID),
			zap.Error(err))
	}
	return true
}

// List 全部令牌，管理端用。
func (s *APITokenService) List(ctx context.Context) ([]domain.APIToken, error) {
	return s.repo.List(ctx)
}

// Create 生成一个新令牌并落库。
func (s *APITokenService) Create(ctx context.Context, name string) (*domain.APIToken, error) {
	token, err := s.repo.Create(ctx, &domain.APIToken{
		Name:     name,
		Token:    newAPITokenValue(),
		IsActive: true,
	})
	if err != nil {
		return nil, err
	}
	logger.L().Info("api_token_created", zap.Int64("token_id", token.ID), zap.String("name", name))
	return token, nil
}

// SetActive 启用或停用令牌，停用后立即拒绝放行。
func (s *APITokenService) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	logger.L().Info("api_token_active_changed", zap.Int64("token_id", id), zap.Bool("active", active))
	return nil
}

// Delete 删除令牌
func (s *APITokenService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.L().Info("api_token_deleted", zap.Int64("token_id", id))
	return nil
}

// newAPITokenValue 随机生成 sk- 前缀的令牌值
func newAPITokenValue() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return "sk-" + hex.EncodeToString(buf)
}
