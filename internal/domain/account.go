// Package domain 定义核心业务实体。
package domain

import "time"

// Credential kinds. 一个账号可同时持有两种 OAuth 凭据：
// native 走 daily 端点（API 反代），generic_cli 走 production 端点（配额同步）。
const (
	CredentialKindNative     = "native"
	CredentialKindGenericCLI = "generic_cli"
)

// Account 状态原因码（同步时由上游 ineligibleTiers 推导）。
const (
	StatusReasonValidationRequired = "VALIDATION_REQUIRED"
)

// CriticalIneligibilityReasons 命中即标记账号 forbidden 的原因码。
var CriticalIneligibilityReasons = map[string]struct{}{
	"DASHER_USER":         {},
	"INELIGIBLE_ACCOUNT":  {},
	"RESTRICTED_NETWORK":  {},
	"UNKNOWN_LOCATION":    {},
	"UNSUPPORTED_LOCATION": {},
}

// Account 一个 Google 账号及其聚合的配额/资格信息。
type Account struct {
	ID            int64             `json:"id"`
	Email         string            `json:"email"`
	Disabled      bool              `json:"disabled"`
	Forbidden     bool              `json:"forbidden"`
	StatusReason  string            `json:"status_reason,omitempty"`
	StatusDetails map[string]string `json:"status_details,omitempty"`

	Tier            string       `json:"tier,omitempty"`
	Label           string       `json:"label,omitempty"`
	QuotaPercent    int          `json:"quota_percent"`
	QuotaBuckets    []ModelQuota `json:"quota_buckets,omitempty"`
	Models          []ModelQuota `json:"models,omitempty"`
	IneligibleTiers []TierInfo   `json:"ineligible_tiers,omitempty"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Active 账号是否可进入调度池。
func (a *Account) Active() bool {
	return a != nil && !a.Disabled && !a.Forbidden
}

// Credential 单个 OAuth 凭据（按 kind 区分客户端类型）。
type Credential struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Kind      string `json:"kind"`

	AccessToken    string     `json:"access_token,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	ProjectID string       `json:"project_id,omitempty"`
	Tier      string       `json:"tier,omitempty"`
	Models    []ModelQuota `json:"models,omitempty"`
	QuotaData []ModelQuota `json:"quota_data,omitempty"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Frozen 凭据是否因 invalid_grant 被冻结（无 access token 且无过期时间）。
func (c *Credential) Frozen() bool {
	return c != nil && c.AccessToken == "" && c.TokenExpiresAt == nil && c.RefreshToken != ""
}

// ModelQuota 单个模型的剩余配额。RemainingFraction 为 nil 表示上游未提供。
type ModelQuota struct {
	Name              string   `json:"name"`
	RemainingFraction *float64 `json:"remaining_fraction,omitempty"`
	ResetTime         string   `json:"reset_time,omitempty"`
	Kind              string   `json:"kind,omitempty"`
}

// TierInfo 上游返回的 tier 资格信息。
type TierInfo struct {
	TierID                 string `json:"tier_id,omitempty"`
	ReasonCode             string `json:"reason_code,omitempty"`
	ValidationURL          string `json:"validation_url,omitempty"`
	ValidationErrorMessage string `json:"validation_error_message,omitempty"`
}
