package repository

import "github.com/google/wire"

// ProviderSet is repository providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewSettingRepository,
	NewAPITokenRepository,
	NewAccountRepository,
	NewModelMappingRepository,
	NewRequestLogRepository,
	NewSessionStore,
	NewCloudCodeUpstream,
	NewCodeAssistClient,
	NewGoogleTokenClient,
)
