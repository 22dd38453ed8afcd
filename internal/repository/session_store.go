package repository

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/service"
)

const (
	poolBindingPrefix = "pool_binding:"
	// maxMemoryBindings 内存实现的绑定容量上限，超出时淘汰最老的绑定。
	maxMemoryBindings = 1000
)

// NewSessionStore 按配置选择绑定存储：redis 可用则跨实例共享，
// 否则退回进程内存。只在启动时探测一次，运行期不做降级切换。
func NewSessionStore(cfg *config.Config) (service.SessionStore, func()) {
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.L().Warn("redis_unavailable_fallback_memory", zap.Error(err))
			_ = rdb.Close()
		} else {
			logger.L().Info("session_store_redis", zap.String("addr", cfg.Redis.Addr))
			return &redisSessionStore{rdb: rdb}, func() { _ = rdb.Close() }
		}
	}
	return newMemorySessionStore(), func() {}
}

type redisSessionStore struct {
	rdb *redis.Client
}

func (s *redisSessionStore) GetBinding(ctx context.Context, fingerprint string) (int64, bool) {
	id, err := s.rdb.Get(ctx, poolBindingPrefix+fingerprint).Int64()
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *redisSessionStore) SetBinding(ctx context.Context, fingerprint string, accountID int64) {
	if err := s.rdb.Set(ctx, poolBindingPrefix+fingerprint, accountID, service.SessionBindingTTL).Err(); err != nil {
		logger.L().Warn("session_binding_set_failed", zap.Error(err))
	}
}

func (s *redisSessionStore) DeleteBinding(ctx context.Context, fingerprint string) {
	if err := s.rdb.Del(ctx, poolBindingPrefix+fingerprint).Err(); err != nil {
		logger.L().Warn("session_binding_delete_failed", zap.Error(err))
	}
}

// memorySessionStore 进程内绑定存储。go-cache 管 TTL 过期，
// 容量上限靠一把锁加按写入时间淘汰最老项来维持。
type memorySessionStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	// order 记录写入时间，容量淘汰用
	order map[string]time.Time
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		cache: gocache.New(service.SessionBindingTTL, 5*time.Minute),
		order: make(map[string]time.Time),
	}
}

func (s *memorySessionStore) GetBinding(_ context.Context, fingerprint string) (int64, bool) {
	v, ok := s.cache.Get(fingerprint)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

func (s *memorySessionStore) SetBinding(_ context.Context, fingerprint string, accountID int64) {
	s.mu.Lock()
	if _, exists := s.order[fingerprint]; !exists && len(s.order) >= maxMemoryBindings {
		var oldestKey string
		var oldestAt time.Time
		for key, at := range s.order {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey = key
				oldestAt = at
			}
		}
		if oldestKey != "" {
			delete(s.order, oldestKey)
			s.cache.Delete(oldestKey)
		}
	}
	s.order[fingerprint] = time.Now()
	s.mu.Unlock()

	s.cache.Set(fingerprint, accountID, service.SessionBindingTTL)
}

func (s *memorySessionStore) DeleteBinding(_ context.Context, fingerprint string) {
	s.mu.Lock()
	delete(s.order, fingerprint)
	s.mu.Unlock()
	s.cache.Delete(fingerprint)
}
