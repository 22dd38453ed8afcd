package handler

import (
	"github.com/google/wire"

	"github.com/Tonwed/NullGravity/internal/handler/admin"
)

// ProviderSet is handler providers.
var ProviderSet = wire.NewSet(
	NewOpenAIGatewayHandler,
	NewAnthropicGatewayHandler,
	NewPassthroughHandler,
	admin.NewProxyHandler,
	admin.NewAccountHandler,
	admin.NewMappingHandler,
	admin.NewSettingHandler,
	admin.NewTokenHandler,
)
