package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// RequestLogRepository 请求日志仓储接口
type RequestLogRepository interface {
	Insert(ctx context.Context, log *domain.RequestLog) error
	List(ctx context.Context, limit, offset int) ([]domain.RequestLog, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// RequestLogService 代理请求记录。写入不在请求临界路径上，
// 失败只记日志不影响响应。
type RequestLogService struct {
	repo RequestLogRepository
}

// NewRequestLogService 创建请求日志服务
func NewRequestLogService(repo RequestLogRepository) *RequestLogService {
	return &RequestLogService{repo: repo}
}

// Record 异步落一条请求记录
func (s *RequestLogService) Record(entry *domain.RequestLog) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.Insert(ctx, entry); err != nil {
			logger.L().Warn("request_log_insert_failed", zap.Error(err))
		}
	}()
}

// List 分页查询请求记录
func (s *RequestLogService) List(ctx context.Context, limit, offset int) ([]domain.RequestLog, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	logs, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Clear 清空请求记录
func (s *RequestLogService) Clear(ctx context.Context) error {
	return s.repo.Clear(ctx)
}
