package service

import (
	"strings"

	"github.com/google/wire"

	"github.com/Tonwed/NullGravity/internal/config"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewSettingService,
	NewAPITokenService,
	NewAccountPool,
	NewModelMappingService,
	NewRequestLogService,
	NewAccountSyncService,
	NewTokenRefresher,
	NewAccountService,
	NewProxyState,
	ProvideForwarder,
)

// ProvideForwarder 注入上游超时与可选的固定上游地址。
func ProvideForwarder(pool *AccountPool, client UpstreamClient, settings *SettingService, state *ProxyState, cfg *config.Config) *Forwarder {
	f := NewForwarder(pool, client, settings, cfg.Upstream.Timeout)
	f.baseOverride = strings.TrimRight(strings.TrimSpace(cfg.Upstream.Base), "/")
	f.state = state
	return f
}
