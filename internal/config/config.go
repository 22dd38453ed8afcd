// Package config 负责加载与校验应用配置。
//
// 配置来源优先级：环境变量（NULLGRAVITY_ 前缀） > config.yaml > 默认值。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/Tonwed/NullGravity/internal/pkg/logger"
	"github.com/Tonwed/NullGravity/internal/pkg/proxyurl"
)

// ProviderSet is config providers.
var ProviderSet = wire.NewSet(Load)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Path sqlite 数据库文件路径。
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type UpstreamConfig struct {
	// Base 覆盖上游地址（留空时由 settings 的 upstream 键决定 daily/prod）。
	Base string `mapstructure:"base"`
	// ProxyURL 出站代理，settings 中的 proxy_url 优先。
	ProxyURL string `mapstructure:"proxy_url"`
	// Timeout 上游请求超时。
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	// Tokens 启动时即生效的 sk- 访问令牌，settings 中的 api_tokens 会与其合并。
	Tokens []string `mapstructure:"tokens"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      logger.Config  `mapstructure:"log"`
	GinMode  string         `mapstructure:"gin_mode"`
}

// Load 读取并校验配置。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/nullgravity")

	v.SetEnvPrefix("NULLGRAVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可选，读取失败只接受"文件不存在"
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8045)
	v.SetDefault("database.path", "data/nullgravity.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("upstream.timeout", 180*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("gin_mode", "release")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, _, err := proxyurl.Parse(c.Upstream.ProxyURL); err != nil {
		return fmt.Errorf("upstream.proxy_url: %w", err)
	}
	for _, tok := range c.Auth.Tokens {
		if !strings.HasPrefix(strings.TrimSpace(tok), "sk-") {
			return fmt.Errorf("auth token must start with sk-")
		}
	}
	return nil
}
