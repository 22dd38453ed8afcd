package service

import "time"

// 系统设置键。所有运行期可调参数都落在 settings 表，管理端修改后即时生效。
const (
	// SettingKeyProxyEnabled 是否启用出站代理
	SettingKeyProxyEnabled = "proxy_enabled"
	// SettingKeyProxyURL 出站代理地址（http/https/socks5/socks5h）
	SettingKeyProxyURL = "proxy_url"

	// SettingKeyScheduleMode 账号池调度模式
	SettingKeyScheduleMode = "pool_schedule_mode"
	// SettingKeyPoolCooldown 同账号两次请求的最小间隔秒数
	SettingKeyPoolCooldown = "pool_cooldown"

	// SettingKeyUpstreamChannel 上游通道（daily / prod）
	SettingKeyUpstreamChannel = "upstream_channel"

	// SettingKeyAutoRefreshEnabled token 自动刷新总开关
	SettingKeyAutoRefreshEnabled = "auto_refresh_enabled"
	// SettingKeyAutoRefreshGemini generic_cli 凭据是否参与自动刷新
	SettingKeyAutoRefreshGemini = "auto_refresh_gemini_enabled"
	// SettingKeyAutoRefreshAntigravity native 凭据是否参与自动刷新
	SettingKeyAutoRefreshAntigravity = "auto_refresh_antigravity_enabled"
	// SettingKeyAutoRefreshInterval 自动刷新间隔（分钟，最小 1）
	SettingKeyAutoRefreshInterval = "auto_refresh_interval"

	// SettingKeyAPITokens 额外的网关访问令牌（JSON 数组，与配置文件中的令牌合并）
	SettingKeyAPITokens = "api_tokens"
)

// 账号池调度模式。
const (
	// ScheduleModeCacheFirst 会话粘住上次用的账号，限流时等退避结束继续用它
	ScheduleModeCacheFirst = "cache_first"
	// ScheduleModeBalance 会话粘滞，绑定账号限流时本次请求热切换到别的账号
	ScheduleModeBalance = "balance"
	// ScheduleModePerformance 不做会话绑定，在可用账号里均匀随机
	ScheduleModePerformance = "performance"
)

// 上游通道。
const (
	UpstreamChannelDaily = "daily"
	UpstreamChannelProd  = "prod"
)

// 默认值。
const (
	DefaultScheduleMode        = ScheduleModeBalance
	DefaultPoolCooldown        = 0
	DefaultUpstreamChannel     = UpstreamChannelDaily
	DefaultAutoRefreshInterval = 15 * time.Minute
	MinAutoRefreshInterval     = time.Minute
)

// defaultSettings 首次启动时写入的设置项。已存在的键不会被覆盖。
var defaultSettings = map[string]string{
	SettingKeyProxyEnabled:           "false",
	SettingKeyProxyURL:               "",
	SettingKeyScheduleMode:           DefaultScheduleMode,
	SettingKeyPoolCooldown:           "0",
	SettingKeyUpstreamChannel:        DefaultUpstreamChannel,
	SettingKeyAutoRefreshEnabled:     "false",
	SettingKeyAutoRefreshGemini:      "true",
	SettingKeyAutoRefreshAntigravity: "true",
	SettingKeyAutoRefreshInterval:    "15",
	SettingKeyAPITokens:              "[]",
}
