package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Tonwed/NullGravity/internal/domain"
	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
	"github.com/Tonwed/NullGravity/internal/pkg/logger"
)

var (
	// ErrAccountNotFound 账号不存在
	ErrAccountNotFound = infraerrors.NotFound("ACCOUNT_NOT_FOUND", "account not found")
	// ErrCredentialNotFound 凭据不存在
	ErrCredentialNotFound = infraerrors.NotFound("CREDENTIAL_NOT_FOUND", "credential not found")
	// ErrNoAccountsAvailable 池中没有可用账号
	ErrNoAccountsAvailable = infraerrors.ServiceUnavailable("NO_ACCOUNTS_AVAILABLE", "no accounts available")
)

// AccountRepository 账号仓储接口
type AccountRepository interface {
	ListActive(ctx context.Context) ([]domain.Account, error)
	ListAll(ctx context.Context) ([]domain.Account, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) (*domain.Account, error)
	UpdateAggregate(ctx context.Context, account *domain.Account) error
	SetDisabled(ctx context.Context, id int64, disabled bool) error

	GetCredential(ctx context.Context, accountID int64, kind string) (*domain.Credential, error)
	ListCredentials(ctx context.Context, accountID int64) ([]domain.Credential, error)
	ListRefreshableCredentials(ctx context.Context) ([]domain.Credential, error)
	UpsertCredential(ctx context.Context, cred *domain.Credential) error
	UpdateCredentialToken(ctx context.Context, credID int64, accessToken string, expiresAt *time.Time) error
	FreezeCredential(ctx context.Context, credID int64) error
	UpdateCredentialSync(ctx context.Context, cred *domain.Credential) error
}

// SessionStore 会话到账号的粘性绑定存储
type SessionStore interface {
	GetBinding(ctx context.Context, fingerprint string) (int64, bool)
	SetBinding(ctx context.Context, fingerprint string, accountID int64)
	DeleteBinding(ctx context.Context, fingerprint string)
}

// SessionBindingTTL 绑定的存活时间，窗口内同一客户端粘住同一账号。
const SessionBindingTTL = 30 * time.Minute

// rateLimitMarkTTL 上游限流后账号的退避时间
const rateLimitMarkTTL = 60 * time.Second

// SessionFingerprint 客户端会话指纹：sha256(ip|ua) 的前 16 个十六进制字符。
// 拿不到 IP 或 UA 时用 "unknown" 占位，保证指纹总是可算。
func SessionFingerprint(clientIP, userAgent string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	if userAgent == "" {
		userAgent = "unknown"
	}
	sum := sha256.Sum256([]byte(clientIP + "|" + userAgent))
	return hex.EncodeToString(sum[:])[:16]
}

// PoolAccount 池内条目：账号及其 native 凭据。
type PoolAccount struct {
	Account    domain.Account
	Credential domain.Credential
}

// 账号调度状态
const (
	PoolStatusAvailable   = "available"
	PoolStatusRateLimited = "rate_limited"
	PoolStatusExhausted   = "exhausted"
	PoolStatusCooling     = "cooling"
)

// PoolAccountStatus 管理端展示的账号调度状态
type PoolAccountStatus struct {
	AccountID        int64      `json:"account_id"`
	Email            string     `json:"email"`
	Tier             string     `json:"tier,omitempty"`
	QuotaPercent     int        `json:"quota_percent"`
	Status           string     `json:"status"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	RateLimited      bool       `json:"rate_limited"`
	LimitedUntil     *time.Time `json:"limited_until,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	TokenFrozen      bool       `json:"token_frozen"`
}

// AccountPool 多账号调度池。
//
// 账号列表从数据库加载进内存，调度决策全部在内存完成，
// 限流标记、耗尽标记和绑定计数不落库，重启即清零。
type AccountPool struct {
	repo      AccountRepository
	sessions  SessionStore
	settings  *SettingService
	refreshSF singleflight.Group

	mu       sync.Mutex
	accounts []PoolAccount
	// exhausted 配额或容量耗尽的账号，保持到下次 Refresh 或自愈
	exhausted map[int64]struct{}
	// limited 账号 ID -> 限流退避截止时间
	limited map[int64]time.Time
	// lastRequest 账号 ID -> 最近一次放行请求的时间，cooldown 用
	lastRequest map[int64]time.Time
	// bindCount 账号 ID -> 当前绑定数，新会话分配给绑定最少的账号
	bindCount map[int64]int
	// cursor balance 模式热切换的轮转游标
	cursor int
}

// NewAccountPool 创建账号池
func NewAccountPool(repo AccountRepository, sessions SessionStore, settings *SettingService) *AccountPool {
	return &AccountPool{
		repo:        repo,
		sessions:    sessions,
		settings:    settings,
		exhausted:   make(map[int64]struct{}),
		limited:     make(map[int64]time.Time),
		lastRequest: make(map[int64]time.Time),
		bindCount:   make(map[int64]int),
	}
}

// Refresh 从数据库重新加载可调度账号及其 native 凭据。
// 配额状态是重新读出来的，耗尽标记整体清掉；限流标记和绑定计数
// 只丢弃已经不在池里的账号。singleflight 合并并发触发的刷新
// （401 重试和管理端手动刷新可能同时到达）。
func (p *AccountPool) Refresh(ctx context.Context) error {
	_, err, _ := p.refreshSF.Do("refresh", func() (any, error) {
		accounts, err := p.repo.ListActive(ctx)
		if err != nil {
			return nil, err
		}

		pool := make([]PoolAccount, 0, len(accounts))
		for i := range accounts {
			cred, err := p.repo.GetCredential(ctx, accounts[i].ID, domain.CredentialKindNative)
			if err != nil {
				if infraerrors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			if cred.AccessToken == "" {
				continue
			}
			pool = append(pool, PoolAccount{Account: accounts[i], Credential: *cred})
		}

		present := make(map[int64]struct{}, len(pool))
		for i := range pool {
			present[pool[i].Account.ID] = struct{}{}
		}

		p.mu.Lock()
		p.accounts = pool
		p.exhausted = make(map[int64]struct{})
		for id := range p.limited {
			if _, ok := present[id]; !ok {
				delete(p.limited, id)
			}
		}
		for id := range p.lastRequest {
			if _, ok := present[id]; !ok {
				delete(p.lastRequest, id)
			}
		}
		for id := range p.bindCount {
			if _, ok := present[id]; !ok {
				delete(p.bindCount, id)
			}
		}
		if p.cursor >= len(pool) {
			p.cursor = 0
		}
		p.mu.Unlock()

		logger.L().Info("account_pool_refreshed", zap.Int("size", len(pool)))
		return nil, nil
	})
	return err
}

// Size 当前池内账号数
func (p *AccountPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Get 按当前调度模式为会话选择账号。
//
// cache_first 下绑定账号在限流退避中时放开锁等退避结束继续用它；
// balance 下只为本次请求热切换到别的账号，绑定保持不动；
// performance 不做绑定，在可用账号里均匀随机。
// 池中所有账号都被标记时清掉全部标记立刻自愈，而不是让请求等 60 秒。
// 选中后会回读一次凭据，后台刷新出的新 token 对下一个请求立即生效。
func (p *AccountPool) Get(ctx context.Context, fingerprint string) (*PoolAccount, error) {
	mode := p.settings.GetScheduleMode(ctx)

	for {
		var boundID int64
		var bound bool
		if mode != ScheduleModePerformance {
			boundID, bound = p.sessions.GetBinding(ctx, fingerprint)
		}

		p.mu.Lock()
		if len(p.accounts) == 0 {
			p.mu.Unlock()
			return nil, ErrNoAccountsAvailable
		}

		now := time.Now()
		avail := p.availableLocked(now)
		if len(avail) == 0 {
			p.exhausted = make(map[int64]struct{})
			p.limited = make(map[int64]time.Time)
			avail = p.availableLocked(now)
			logger.L().Warn("account_pool_self_heal", zap.Int("size", len(p.accounts)))
		}
		if len(avail) == 0 {
			p.mu.Unlock()
			return nil, ErrNoAccountsAvailable
		}

		if mode == ScheduleModePerformance {
			acct := *avail[rand.Intn(len(avail))]
			p.mu.Unlock()
			p.freshenCredential(ctx, &acct)
			return &acct, nil
		}

		if bound {
			if member := p.memberLocked(boundID); member != nil {
				if _, dead := p.exhausted[boundID]; !dead {
					until, cooling := p.limited[boundID]
					if !cooling || !now.Before(until) {
						acct := *member
						p.mu.Unlock()
						// 续绑定的访问时间
						p.sessions.SetBinding(ctx, fingerprint, boundID)
						p.freshenCredential(ctx, &acct)
						return &acct, nil
					}
					if mode == ScheduleModeBalance {
						// 热切换只管本次请求，绑定保持不动
						acct := *avail[p.cursor%len(avail)]
						p.mu.Unlock()
						p.freshenCredential(ctx, &acct)
						return &acct, nil
					}
					// cache_first: 等绑定账号的退避结束
					wait := time.Until(until)
					p.mu.Unlock()
					if err := sleepContext(ctx, wait); err != nil {
						return nil, err
					}
					continue
				}
			}
			// 绑定指向的账号已耗尽或出池，重新分配
		}

		acct := p.leastLoadedLocked(avail)
		p.bindCount[acct.Account.ID]++
		picked := *acct
		p.mu.Unlock()

		p.sessions.SetBinding(ctx, fingerprint, picked.Account.ID)
		p.freshenCredential(ctx, &picked)
		return &picked, nil
	}
}

// freshenCredential 每次取号都从仓储回读凭据，刷新任务或管理端轮换出的
// 新 token 不用等下次 Refresh。读失败或 token 已被冻结时沿用池内快照。
func (p *AccountPool) freshenCredential(ctx context.Context, acct *PoolAccount) {
	cred, err := p.repo.GetCredential(ctx, acct.Account.ID, domain.CredentialKindNative)
	if err != nil {
		logger.L().Warn("account_credential_reread_failed",
			zap.Int64("account_id", acct.Account.ID),
			zap.Error(err))
		return
	}
	if cred.AccessToken == "" {
		return
	}
	acct.Credential = *cred

	p.mu.Lock()
	if member := p.memberLocked(acct.Account.ID); member != nil {
		member.Credential = *cred
	}
	p.mu.Unlock()
}

// availableLocked 未耗尽且不在限流退避中的账号，调用方持锁。
func (p *AccountPool) availableLocked(now time.Time) []*PoolAccount {
	avail := make([]*PoolAccount, 0, len(p.accounts))
	for i := range p.accounts {
		id := p.accounts[i].Account.ID
		if _, dead := p.exhausted[id]; dead {
			continue
		}
		if until, marked := p.limited[id]; marked && now.Before(until) {
			continue
		}
		avail = append(avail, &p.accounts[i])
	}
	return avail
}

func (p *AccountPool) memberLocked(id int64) *PoolAccount {
	for i := range p.accounts {
		if p.accounts[i].Account.ID == id {
			return &p.accounts[i]
		}
	}
	return nil
}

// leastLoadedLocked 选绑定数最少的账号，并列时取列表里靠前的。
func (p *AccountPool) leastLoadedLocked(avail []*PoolAccount) *PoolAccount {
	best := avail[0]
	for _, acct := range avail[1:] {
		if p.bindCount[acct.Account.ID] < p.bindCount[best.Account.ID] {
			best = acct
		}
	}
	return best
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitCooldown 如果配置了同账号请求间隔且尚未到期，阻塞到可以放行。
// ctx 取消时立即返回。
func (p *AccountPool) WaitCooldown(ctx context.Context, accountID int64) error {
	cooldown := p.settings.GetPoolCooldown(ctx)
	if cooldown <= 0 {
		return nil
	}

	p.mu.Lock()
	last, ok := p.lastRequest[accountID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	return sleepContext(ctx, cooldown-time.Since(last))
}

// MarkRequest 记录账号的放行时间，cooldown 计时起点。
func (p *AccountPool) MarkRequest(accountID int64) {
	p.mu.Lock()
	p.lastRequest[accountID] = time.Now()
	p.mu.Unlock()
}

// MarkRateLimited 上游限流后给账号打退避标记
func (p *AccountPool) MarkRateLimited(accountID int64) {
	p.mu.Lock()
	p.limited[accountID] = time.Now().Add(rateLimitMarkTTL)
	p.mu.Unlock()
	logger.L().Warn("account_rate_limited", zap.Int64("account_id", accountID))
}

// MarkExhausted 配额或容量耗尽，账号停止调度直到下次 Refresh。
func (p *AccountPool) MarkExhausted(accountID int64) {
	p.mu.Lock()
	p.exhausted[accountID] = struct{}{}
	p.mu.Unlock()
	logger.L().Warn("account_exhausted", zap.Int64("account_id", accountID))
}

// Rotate 解除会话绑定并按失败原因标记账号，下次选择会换一个账号。
// 限流和网络故障是临时退避，其余原因视为耗尽。
func (p *AccountPool) Rotate(ctx context.Context, fingerprint string, accountID int64, reason string) {
	p.sessions.DeleteBinding(ctx, fingerprint)

	switch reason {
	case RotateReasonRateLimit, RotateReasonTransport:
		p.MarkRateLimited(accountID)
	default:
		p.MarkExhausted(accountID)
	}

	p.mu.Lock()
	if n := p.bindCount[accountID]; n > 1 {
		p.bindCount[accountID] = n - 1
	} else {
		delete(p.bindCount, accountID)
	}
	if len(p.accounts) > 0 {
		p.cursor = (p.cursor + 1) % len(p.accounts)
	}
	p.mu.Unlock()

	logger.L().Info("account_rotated",
		zap.Int64("account_id", accountID),
		zap.String("reason", reason))
}

// Statuses 管理端查看池内账号的调度状态
func (p *AccountPool) Statuses(ctx context.Context) []PoolAccountStatus {
	cooldown := p.settings.GetPoolCooldown(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	statuses := make([]PoolAccountStatus, 0, len(p.accounts))
	for i := range p.accounts {
		acct := &p.accounts[i]
		id := acct.Account.ID
		status := PoolAccountStatus{
			AccountID:    id,
			Email:        acct.Account.Email,
			Tier:         acct.Account.Tier,
			QuotaPercent: acct.Account.QuotaPercent,
			Status:       PoolStatusAvailable,
			TokenFrozen:  acct.Credential.Frozen(),
		}
		if last, ok := p.lastRequest[id]; ok {
			l := last
			status.LastUsedAt = &l
			if cooldown > 0 && now.Before(last.Add(cooldown)) {
				status.Status = PoolStatusCooling
				status.RemainingSeconds = int(last.Add(cooldown).Sub(now).Seconds()) + 1
			}
		}
		if until, ok := p.limited[id]; ok && now.Before(until) {
			status.Status = PoolStatusRateLimited
			status.RateLimited = true
			u := until
			status.LimitedUntil = &u
			status.RemainingSeconds = int(time.Until(until).Seconds()) + 1
		}
		if _, dead := p.exhausted[id]; dead {
			status.Status = PoolStatusExhausted
			status.RemainingSeconds = 0
		}
		statuses = append(statuses, status)
	}
	return statuses
}
