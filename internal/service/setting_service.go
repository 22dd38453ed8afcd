package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

// ErrSettingNotFound 设置项不存在
var ErrSettingNotFound = infraerrors.NotFound("SETTING_NOT_FOUND", "setting not found")

// SettingRepository 设置仓储接口
type SettingRepository interface {
	Get(ctx context.Context, key string) (*domain.Setting, error)
	GetValue(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetMultiple(ctx context.Context, keys []string) (map[string]string, error)
	SetMultiple(ctx context.Context, settings map[string]string) error
	GetAll(ctx context.Context) (map[string]string, error)
	Delete(ctx context.Context, key string) error
}

const (
	settingCacheTTL     = 30 * time.Second
	settingCacheCleanup = time.Minute
)

// SettingService 系统设置服务。
// 热路径（账号池、转发器）每个请求都要读调度参数，用短 TTL 的进程内缓存挡住数据库，
// 管理端写入时主动失效对应键。
type SettingService struct {
	repo  SettingRepository
	cache *gocache.Cache
}

// NewSettingService 创建系统设置服务实例
func NewSettingService(repo SettingRepository) *SettingService {
	return &SettingService{
		repo:  repo,
		cache: gocache.New(settingCacheTTL, settingCacheCleanup),
	}
}

// InitializeDefaultSettings 初始化缺失的默认设置项，已存在的键保持不变。
func (s *SettingService) InitializeDefaultSettings(ctx context.Context) error {
	existing, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	missing := make(map[string]string)
	for key, value := range defaultSettings {
		if _, ok := existing[key]; !ok {
			missing[key] = value
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.repo.SetMultiple(ctx, missing); err != nil {
		return err
	}
	logger.L().Info("settings_defaults_initialized", zap.Int("count", len(missing)))
	return nil
}

// GetValue 读取设置值，带进程内缓存。键不存在时返回空串。
func (s *SettingService) GetValue(ctx context.Context, key string) string {
	if cached, ok := s.cache.Get(key); ok {
		return cached.(string)
	}
	value, err := s.repo.GetValue(ctx, key)
	if err != nil {
		if !infraerrors.IsNotFound(err) {
			logger.L().Warn("setting_read_failed", zap.String("key", key), zap.Error(err))
		}
		value = ""
	}
	s.cache.Set(key, value, settingCacheTTL)
	return value
}

// Set 写入设置值并失效缓存
func (s *SettingService) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

// SetMultiple 批量写入设置并失效缓存
func (s *SettingService) SetMultiple(ctx context.Context, settings map[string]string) error {
	if err := s.repo.SetMultiple(ctx, settings); err != nil {
		return err
	}
	for key := range settings {
		s.cache.Delete(key)
	}
	return nil
}

// GetAll 返回全部设置项，绕过缓存，管理端用。
func (s *SettingService) GetAll(ctx context.Context) (map[string]string, error) {
	return s.repo.GetAll(ctx)
}

func (s *SettingService) getBool(ctx context.Context, key string, fallback bool) bool {
	raw := strings.TrimSpace(s.GetValue(ctx, key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (s *SettingService) getInt(ctx context.Context, key string, fallback int) int {
	raw := strings.TrimSpace(s.GetValue(ctx, key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetScheduleMode 账号池调度模式，非法值回退 balance。
func (s *SettingService) GetScheduleMode(ctx context.Context) string {
	switch mode := s.GetValue(ctx, SettingKeyScheduleMode); mode {
	case ScheduleModeCacheFirst, ScheduleModeBalance, ScheduleModePerformance:
		return mode
	default:
		return DefaultScheduleMode
	}
}

// GetPoolCooldown 同账号两次请求的最小间隔
func (s *SettingService) GetPoolCooldown(ctx context.Context) time.Duration {
	seconds := s.getInt(ctx, SettingKeyPoolCooldown, DefaultPoolCooldown)
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}

// GetUpstreamChannel 上游通道，非法值回退 daily。
func (s *SettingService) GetUpstreamChannel(ctx context.Context) string {
	switch ch := s.GetValue(ctx, SettingKeyUpstreamChannel); ch {
	case UpstreamChannelDaily, UpstreamChannelProd:
		return ch
	default:
		return DefaultUpstreamChannel
	}
}

// GetProxyURL 出站代理地址。未启用或为空时返回 ""。
func (s *SettingService) GetProxyURL(ctx context.Context) string {
	if !s.getBool(ctx, SettingKeyProxyEnabled, false) {
		return ""
	}
	return strings.TrimSpace(s.GetValue(ctx, SettingKeyProxyURL))
}

// IsAutoRefreshEnabled token 自动刷新总开关，默认关闭。
func (s *SettingService) IsAutoRefreshEnabled(ctx context.Context) bool {
	return s.getBool(ctx, SettingKeyAutoRefreshEnabled, false)
}

// IsKindRefreshEnabled 指定凭据类型是否参与自动刷新，默认开启。
func (s *SettingService) IsKindRefreshEnabled(ctx context.Context, kind string) bool {
	switch kind {
	case domain.CredentialKindGenericCLI:
		return s.getBool(ctx, SettingKeyAutoRefreshGemini, true)
	case domain.CredentialKindNative:
		return s.getBool(ctx, SettingKeyAutoRefreshAntigravity, true)
	default:
		return false
	}
}

// GetAutoRefreshInterval 自动刷新间隔，下限 1 分钟。
func (s *SettingService) GetAutoRefreshInterval(ctx context.Context) time.Duration {
	minutes := s.getInt(ctx, SettingKeyAutoRefreshInterval, int(DefaultAutoRefreshInterval/time.Minute))
	interval := time.Duration(minutes) * time.Minute
	if interval < MinAutoRefreshInterval {
		return MinAutoRefreshInterval
	}
	return interval
}

// GetExtraAPITokens settings 表中额外配置的网关访问令牌，与配置文件中的令牌合并生效。
func (s *SettingService) GetExtraAPITokens(ctx context.Context) []string {
	raw := strings.TrimSpace(s.GetValue(ctx, SettingKeyAPITokens))
	if raw == "" || raw == "[]" {
		return nil
	}
	// 支持 JSON 数组和逗号分隔两种写法
	var tokens []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			logger.L().Warn("setting_api_tokens_invalid", zap.Error(err))
			return nil
		}
	} else {
		tokens = strings.Split(raw, ",")
	}
	var out []string
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if strings.HasPrefix(t, "sk-") {
			out = append(out, t)
		}
	}
	return out
}
