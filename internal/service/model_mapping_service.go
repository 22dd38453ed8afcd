package service

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// ErrModelMappingNotFound 映射规则不存在
var ErrModelMappingNotFound = infraerrors.NotFound("MODEL_MAPPING_NOT_FOUND", "model mapping not found")

// ModelMappingRepository 模型映射仓储接口
type ModelMappingRepository interface {
	ListActive(ctx context.Context) ([]domain.ModelMapping, error)
	List(ctx context.Context) ([]domain.ModelMapping, error)
	GetByID(ctx context.Context, id int64) (*domain.ModelMapping, error)
	Create(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error)
	Update(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error)
	Delete(ctx context.Context, id int64) error
}

const modelMappingCacheTTL = time.Minute

// ModelMappingService 模型名重写。
// 每个请求都要做一次解析，解析结果按模型名缓存，规则变更时整体失效。
type ModelMappingService struct {
	repo  ModelMappingRepository
	cache *ristretto.Cache
}

// NewModelMappingService 创建模型映射服务
func NewModelMappingService(repo ModelMappingRepository) (*ModelMappingService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ModelMappingService{repo: repo, cache: cache}, nil
}

// Resolve 按优先级匹配规则重写模型名，无规则命中时原样返回。
func (s *ModelMappingService) Resolve(ctx context.Context, model string) string {
	if model == "" {
		return model
	}
	if cached, ok := s.cache.Get(model); ok {
		return cached.(string)
	}

	resolved := model
	rules, err := s.repo.ListActive(ctx)
	if err != nil {
		logger.L().Warn("model_mapping_load_failed", zap.Error(err))
		return model
	}
	for i := range rules {
		if wildcardMatch(rules[i].Pattern, model) {
			resolved = rules[i].Target
			break
		}
	}
	if alias, ok := domain.DefaultAntigravityModelMapping[resolved]; ok {
		resolved = alias
	}

	s.cache.SetWithTTL(model, resolved, int64(len(model)+len(resolved)), modelMappingCacheTTL)
	return resolved
}

// List 全部规则，管理端用。
func (s *ModelMappingService) List(ctx context.Context) ([]domain.ModelMapping, error) {
	return s.repo.List(ctx)
}

// Create 新建规则并失效解析缓存
func (s *ModelMappingService) Create(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error) {
	if mapping.Pattern == "" || mapping.Target == "" {
		return nil, infraerrors.BadRequest("MODEL_MAPPING_INVALID", "pattern and target are required")
	}
	created, err := s.repo.Create(ctx, mapping)
	if err != nil {
		return nil, err
	}
	s.cache.Clear()
	return created, nil
}

// Update 更新规则并失效解析缓存
func (s *ModelMappingService) Update(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error) {
	if mapping.Pattern == "" || mapping.Target == "" {
		return nil, infraerrors.BadRequest("MODEL_MAPPING_INVALID", "pattern and target are required")
	}
	updated, err := s.repo.Update(ctx, mapping)
	if err != nil {
		return nil, err
	}
	s.cache.Clear()
	return updated, nil
}

// Delete 删除规则并失效解析缓存
func (s *ModelMappingService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Clear()
	return nil
}

// wildcardMatch 通配符匹配：* 匹配任意串，? 匹配单个字符。
func wildcardMatch(pattern, s string) bool {
	p, n := 0, 0
	starP, starN := -1, 0
	for n < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[n]):
			p++
			n++
		case p < len(pattern) && pattern[p] == '*':
			starP = p
			starN = n
			p++
		case starP >= 0:
			p = starP + 1
			starN++
			n = starN
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
