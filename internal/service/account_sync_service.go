package service

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

const (
	// onboardPollInterval LRO 轮询间隔与上限
	onboardPollInterval = 5 * time.Second
	onboardMaxPolls     = 12

	syncConcurrency = 4
)

// credSyncResult 单个凭据同步的产出，账号级汇总用。
type credSyncResult struct {
	kind               string
	ok                 bool
	tier               string
	quota              []domain.ModelQuota
	models             []domain.ModelQuota
	ineligibleTiers    []domain.TierInfo
	validationRequired bool
	validationDetails  map[string]string
}

// AccountSyncService 拉取上游账号状态：tier、project、模型配额和资格限制。
//
// generic_cli 凭据走 production 端点（loadCodeAssist / onboardUser / retrieveUserQuota），
// native 凭据走 sandbox 端点（loadCodeAssist / fetchAvailableModels）。
// 两类结果汇总到账号级字段供调度和管理端使用。
type AccountSyncService struct {
	repo   AccountRepository
	client CodeAssistClient
	pool   pond.Pool
}

// NewAccountSyncService 创建账号同步服务
func NewAccountSyncService(repo AccountRepository, client CodeAssistClient) *AccountSyncService {
	return &AccountSyncService{
		repo:   repo,
		client: client,
		pool:   pond.NewPool(syncConcurrency),
	}
}

// Stop 等待在途同步任务完成
func (s *AccountSyncService) Stop() {
	s.pool.StopAndWait()
}

// SyncAll 并发同步全部未禁用账号
func (s *AccountSyncService) SyncAll(ctx context.Context) {
	accounts, err := s.repo.ListAll(ctx)
	if err != nil {
		logger.L().Error("sync_all_list_failed", zap.Error(err))
		return
	}
	group := s.pool.NewGroup()
	for i := range accounts {
		if accounts[i].Disabled {
			continue
		}
		id := accounts[i].ID
		group.Submit(func() {
			if err := s.SyncAccount(ctx, id); err != nil {
				logger.L().Warn("account_sync_failed", zap.Int64("account_id", id), zap.Error(err))
			}
		})
	}
	_ = group.Wait()
}

// SyncAccount 同步单个账号：先 generic_cli 后 native，再做账号级汇总。
func (s *AccountSyncService) SyncAccount(ctx context.Context, accountID int64) error {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	creds, err := s.repo.ListCredentials(ctx, accountID)
	if err != nil {
		return err
	}

	var results []credSyncResult
	for i := range creds {
		cred := &creds[i]
		if cred.AccessToken == "" {
			continue
		}
		var res credSyncResult
		switch cred.Kind {
		case domain.CredentialKindGenericCLI:
			res = s.syncGenericCLI(ctx, cred)
		case domain.CredentialKindNative:
			res = s.syncNative(ctx, cred)
		default:
			continue
		}
		results = append(results, res)
		if res.ok {
			now := time.Now().UTC()
			cred.LastSyncAt = &now
			if err := s.repo.UpdateCredentialSync(ctx, cred); err != nil {
				logger.L().Warn("credential_sync_persist_failed",
					zap.Int64("credential_id", cred.ID), zap.Error(err))
			}
		}
	}

	s.aggregate(account, creds, results)
	return s.repo.UpdateAggregate(ctx, account)
}

// syncGenericCLI production 端点流程：loadCodeAssist，必要时 onboard，再拉配额。
func (s *AccountSyncService) syncGenericCLI(ctx context.Context, cred *domain.Credential) credSyncResult {
	res := credSyncResult{kind: cred.Kind}
	metadata := map[string]any{
		"ideType":    "GEMINI_CLI",
		"platform":   "WINDOWS_AMD64",
		"pluginType": "GEMINI",
	}

	loadBody, err := s.client.Post(ctx, UpstreamBaseProd, "loadCodeAssist", cred.AccessToken, SyncUserAgentCLI,
		map[string]any{"metadata": metadata})
	if err != nil {
		s.noteSyncError(&res, err)
		return res
	}
	load := gjson.ParseBytes(loadBody)

	tierID := pickTierID(load)
	projectID := load.Get("cloudaicompanionProject").String()

	// 从未用过 Gemini CLI 的账号需要先 onboard 才有 project
	if !load.Get("currentTier").Exists() && projectID == "" {
		if onboarded := s.onboardUser(ctx, cred.AccessToken, load, metadata); onboarded != "" {
			projectID = onboarded
			if reloaded, err := s.client.Post(ctx, UpstreamBaseProd, "loadCodeAssist", cred.AccessToken, SyncUserAgentCLI,
				map[string]any{"metadata": metadata}); err == nil {
				load = gjson.ParseBytes(reloaded)
				tierID = pickTierID(load)
				if p := load.Get("cloudaicompanionProject").String(); p != "" {
					projectID = p
				}
			}
		}
	}
	if projectID == "" {
		projectID = cred.ProjectID
	}

	cred.Tier = tierID
	cred.ProjectID = projectID
	res.tier = tierID
	res.ineligibleTiers = parseIneligibleTiers(load)

	if projectID != "" {
		quotaBody, err := s.client.Post(ctx, UpstreamBaseProd, "retrieveUserQuota", cred.AccessToken, SyncUserAgentCLI,
			map[string]any{"project": projectID})
		if err != nil {
			s.noteSyncError(&res, err)
		} else {
			var quota []domain.ModelQuota
			gjson.GetBytes(quotaBody, "buckets").ForEach(func(_, bucket gjson.Result) bool {
				modelID := bucket.Get("modelId").String()
				if modelID == "" {
					return true
				}
				entry := domain.ModelQuota{
					Name:      modelID,
					ResetTime: bucket.Get("resetTime").String(),
					Kind:      cred.Kind,
				}
				if frac := bucket.Get("remainingFraction"); frac.Exists() {
					f := frac.Float()
					entry.RemainingFraction = &f
				}
				quota = append(quota, entry)
				return true
			})
			res.quota = quota
			res.models = quota
			cred.QuotaData = quota
			cred.Models = quota
		}
	}

	res.ok = true
	return res
}

// syncNative sandbox 端点流程：loadCodeAssist + fetchAvailableModels。
// fetchAvailableModels 403 时退回公共兜底项目重试一次。
func (s *AccountSyncService) syncNative(ctx context.Context, cred *domain.Credential) credSyncResult {
	res := credSyncResult{kind: cred.Kind}

	loadBody, err := s.client.Post(ctx, UpstreamBaseSandbox, "loadCodeAssist", cred.AccessToken, WireUserAgent(),
		map[string]any{"metadata": map[string]any{"ideType": "ANTIGRAVITY"}})
	if err != nil {
		s.noteSyncError(&res, err)
		return res
	}
	load := gjson.ParseBytes(loadBody)

	tierID := pickTierID(load)
	projectID := load.Get("cloudaicompanionProject").String()
	cred.Tier = tierID
	cred.ProjectID = projectID
	res.tier = tierID
	res.ineligibleTiers = parseIneligibleTiers(load)

	models := s.fetchNativeModels(ctx, cred.AccessToken, projectID)
	res.models = models
	// native 的配额就挂在模型条目上
	res.quota = models
	cred.Models = models
	cred.QuotaData = models

	res.ok = true
	return res
}

// fetchNativeModels sandbox fetchAvailableModels，返回 map[模型名]ModelInfo。
func (s *AccountSyncService) fetchNativeModels(ctx context.Context, accessToken, projectID string) []domain.ModelQuota {
	attempts := []string{FallbackProjectID}
	if projectID != "" && projectID != FallbackProjectID {
		attempts = []string{projectID, FallbackProjectID}
	}

	for i, pid := range attempts {
		body, err := s.client.Post(ctx, UpstreamBaseSandbox, "fetchAvailableModels", accessToken, WireUserAgent(),
			map[string]any{"project": pid})
		if err != nil {
			var caErr *CodeAssistError
			if errors.As(err, &caErr) && caErr.StatusCode == 403 && i < len(attempts)-1 {
				logger.L().Warn("fetch_models_project_denied", zap.String("project", pid))
				continue
			}
			logger.L().Warn("fetch_models_failed", zap.String("project", pid), zap.Error(err))
			return nil
		}

		var models []domain.ModelQuota
		gjson.GetBytes(body, "models").ForEach(func(name, info gjson.Result) bool {
			entry := domain.ModelQuota{Name: name.String(), Kind: domain.CredentialKindNative}
			if quotaInfo := info.Get("quotaInfo"); quotaInfo.Exists() {
				// remainingFraction 缺失表示配额耗尽
				f := quotaInfo.Get("remainingFraction").Float()
				entry.RemainingFraction = &f
				entry.ResetTime = quotaInfo.Get("resetTime").String()
			}
			models = append(models, entry)
			return true
		})
		return models
	}
	return nil
}

// onboardUser 用默认 tier 发起 onboard，轮询 LRO 直到拿到 project id。
func (s *AccountSyncService) onboardUser(ctx context.Context, accessToken string, load gjson.Result, metadata map[string]any) string {
	var tierID string
	load.Get("allowedTiers").ForEach(func(_, tier gjson.Result) bool {
		if tier.Get("isDefault").Bool() {
			tierID = tier.Get("id").String()
			return false
		}
		return true
	})
	if tierID == "" {
		logger.L().Warn("onboard_no_default_tier")
		return ""
	}

	lroBody, err := s.client.Post(ctx, UpstreamBaseProd, "onboardUser", accessToken, SyncUserAgentCLI,
		map[string]any{"tierId": tierID, "metadata": metadata})
	if err != nil {
		logger.L().Warn("onboard_user_failed", zap.Error(err))
		return ""
	}
	lro := gjson.ParseBytes(lroBody)

	operationName := lro.Get("name").String()
	for i := 0; !lro.Get("done").Bool() && operationName != "" && i < onboardMaxPolls; i++ {
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(onboardPollInterval):
		}
		opBody, err := s.client.GetOperation(ctx, UpstreamBaseProd, operationName, accessToken, SyncUserAgentCLI)
		if err != nil {
			logger.L().Warn("onboard_poll_failed", zap.Error(err))
			return ""
		}
		lro = gjson.ParseBytes(opBody)
	}

	projectID := lro.Get("response.cloudaicompanionProject.id").String()
	if projectID == "" {
		logger.L().Warn("onboard_no_project", zap.String("operation", operationName))
	}
	return projectID
}

// noteSyncError 把 403 响应里的验证要求提取到结果上
func (s *AccountSyncService) noteSyncError(res *credSyncResult, err error) {
	var caErr *CodeAssistError
	if !errors.As(err, &caErr) {
		logger.L().Warn("codeassist_sync_error", zap.String("kind", res.kind), zap.Error(err))
		return
	}
	logger.L().Warn("codeassist_sync_error",
		zap.String("kind", res.kind),
		zap.String("method", caErr.Method),
		zap.Int("status", caErr.StatusCode))

	if caErr.StatusCode != 403 {
		return
	}
	res.validationRequired = true
	gjson.GetBytes(caErr.Body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if url := detail.Get("metadata.validation_url").String(); url != "" {
			msg := detail.Get("metadata.validation_error_message").String()
			if msg == "" {
				msg = "Account verification required"
			}
			res.validationDetails = map[string]string{"validation_url": url, "message": msg}
			return false
		}
		var found bool
		detail.Get("links").ForEach(func(_, link gjson.Result) bool {
			if link.Get("description").String() == "Verify your account" && link.Get("url").String() != "" {
				res.validationDetails = map[string]string{
					"validation_url": link.Get("url").String(),
					"message":        "Verify your account",
				}
				found = true
				return false
			}
			return true
		})
		return !found
	})
}

// aggregate 账号级汇总：tier 取非 free 优先，资格限制推导 forbidden 与状态原因，
// quota_percent 取剩余最少的桶换算为已用百分比。
func (s *AccountSyncService) aggregate(account *domain.Account, creds []domain.Credential, results []credSyncResult) {
	account.StatusReason = ""
	account.StatusDetails = nil

	var bestTier string
	for i := range creds {
		if creds[i].Tier == "" {
			continue
		}
		if bestTier == "" || creds[i].Tier != "free-tier" {
			bestTier = creds[i].Tier
		}
	}

	var allIneligible []domain.TierInfo
	forbidden := false
	for _, res := range results {
		if !res.ok {
			continue
		}
		allIneligible = append(allIneligible, res.ineligibleTiers...)
	}
	for _, tier := range allIneligible {
		if tier.ReasonCode == domain.StatusReasonValidationRequired {
			account.StatusReason = domain.StatusReasonValidationRequired
			if tier.ValidationURL != "" {
				account.StatusDetails = map[string]string{
					"validation_url": tier.ValidationURL,
					"message":        tier.ValidationErrorMessage,
				}
			}
		}
		if _, critical := domain.CriticalIneligibilityReasons[tier.ReasonCode]; critical {
			// 有付费 tier 时 free-tier 的地域限制不拉黑整个账号
			if bestTier != "" && bestTier != "free-tier" && tier.TierID == "free-tier" {
				continue
			}
			forbidden = true
			if account.StatusReason != domain.StatusReasonValidationRequired {
				account.StatusReason = tier.ReasonCode
			}
		}
	}

	for _, res := range results {
		if res.validationRequired {
			account.StatusReason = domain.StatusReasonValidationRequired
			if res.validationDetails != nil {
				account.StatusDetails = res.validationDetails
			}
		}
	}

	account.Tier = bestTier
	account.Forbidden = forbidden
	account.IneligibleTiers = allIneligible
	if bestTier != "" {
		account.Label = bestTier
	}

	// quota 桶优先 generic_cli，缺失时退回 native
	var quota []domain.ModelQuota
	for _, res := range results {
		if res.kind == domain.CredentialKindGenericCLI && len(res.quota) > 0 {
			quota = res.quota
			break
		}
	}
	if quota == nil {
		for _, res := range results {
			if res.kind == domain.CredentialKindNative && len(res.quota) > 0 {
				quota = res.quota
				break
			}
		}
	}
	account.QuotaBuckets = quota

	if len(quota) > 0 {
		minFraction := 1.0
		hasFraction := false
		for _, bucket := range quota {
			if bucket.RemainingFraction == nil {
				continue
			}
			hasFraction = true
			if *bucket.RemainingFraction < minFraction {
				minFraction = *bucket.RemainingFraction
			}
		}
		if hasFraction {
			account.QuotaPercent = int((1.0 - minFraction) * 100)
		}
	}

	var allModels []domain.ModelQuota
	for i := range creds {
		allModels = append(allModels, creds[i].Models...)
	}
	account.Models = allModels

	now := time.Now().UTC()
	account.LastSyncAt = &now
}

func pickTierID(load gjson.Result) string {
	if tier := load.Get("paidTier.id").String(); tier != "" {
		return tier
	}
	return load.Get("currentTier.id").String()
}

func parseIneligibleTiers(load gjson.Result) []domain.TierInfo {
	var tiers []domain.TierInfo
	load.Get("ineligibleTiers").ForEach(func(_, tier gjson.Result) bool {
		info := domain.TierInfo{
			TierID:     tier.Get("tierId").String(),
			ReasonCode: tier.Get("reasonCode").String(),
		}
		if url := tier.Get("validationUrl").String(); url != "" {
			info.ValidationURL = url
		} else {
			info.ValidationURL = tier.Get("validation_url").String()
		}
		if msg := tier.Get("validationErrorMessage").String(); msg != "" {
			info.ValidationErrorMessage = msg
		} else {
			info.ValidationErrorMessage = tier.Get("validation_error_message").String()
		}
		tiers = append(tiers, info)
		return true
	})
	return tiers
}
