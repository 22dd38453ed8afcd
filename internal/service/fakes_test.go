//go:build unit

package service

import (
	"context"
	"sync"
	"time"

	"github.com/Tonwed/NullGravity/internal/domain"
)

// memSettingRepo 内存设置仓储
type memSettingRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettingRepo(values map[string]string) *memSettingRepo {
	if values == nil {
		values = make(map[string]string)
	}
	return &memSettingRepo{values: values}
}

func (r *memSettingRepo) Get(_ context.Context, key string) (*domain.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return nil, ErrSettingNotFound
	}
	return &domain.Setting{Key: key, Value: v}, nil
}

func (r *memSettingRepo) GetValue(ctx context.Context, key string) (string, error) {
	s, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func (r *memSettingRepo) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memSettingRepo) GetMultiple(_ context.Context, keys []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := r.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *memSettingRepo) SetMultiple(_ context.Context, settings map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range settings {
		r.values[k] = v
	}
	return nil
}

func (r *memSettingRepo) GetAll(_ context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

func (r *memSettingRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

func newTestSettings(values map[string]string) *SettingService {
	return NewSettingService(newMemSettingRepo(values))
}

// memSessionStore 内存会话绑定
type memSessionStore struct {
	mu       sync.Mutex
	bindings map[string]int64
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{bindings: make(map[string]int64)}
}

func (s *memSessionStore) GetBinding(_ context.Context, fingerprint string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bindings[fingerprint]
	return id, ok
}

func (s *memSessionStore) SetBinding(_ context.Context, fingerprint string, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[fingerprint] = accountID
}

func (s *memSessionStore) DeleteBinding(_ context.Context, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, fingerprint)
}

// fakeAccountRepo 内存账号仓储
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts []domain.Account
	// creds accountID -> kind -> credential
	creds   map[int64]map[string]*domain.Credential
	nextID  int64
	frozen  []int64
	updated []int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{creds: make(map[int64]map[string]*domain.Credential), nextID: 1}
}

func (r *fakeAccountRepo) addAccount(acct domain.Account, creds ...domain.Credential) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct.ID = r.nextID
	r.nextID++
	r.accounts = append(r.accounts, acct)
	for i := range creds {
		creds[i].AccountID = acct.ID
		creds[i].ID = acct.ID*100 + int64(i)
		if r.creds[acct.ID] == nil {
			r.creds[acct.ID] = make(map[string]*domain.Credential)
		}
		c := creds[i]
		r.creds[acct.ID][c.Kind] = &c
	}
	return acct.ID
}

func (r *fakeAccountRepo) ListActive(_ context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for i := range r.accounts {
		if r.accounts[i].Active() {
			out = append(out, r.accounts[i])
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ListAll(_ context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Account(nil), r.accounts...), nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			acct := r.accounts[i]
			return &acct, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *fakeAccountRepo) Create(_ context.Context, account *domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account.ID = r.nextID
	r.nextID++
	r.accounts = append(r.accounts, *account)
	return account, nil
}

func (r *fakeAccountRepo) UpdateAggregate(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.accounts {
		if r.accounts[i].ID == account.ID {
			r.accounts[i] = *account
		}
	}
	r.updated = append(r.updated, account.ID)
	return nil
}

func (r *fakeAccountRepo) SetDisabled(_ context.Context, id int64, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			r.accounts[i].Disabled = disabled
		}
	}
	return nil
}

func (r *fakeAccountRepo) GetCredential(_ context.Context, accountID int64, kind string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[accountID][kind]; ok {
		cred := *c
		return &cred, nil
	}
	return nil, ErrCredentialNotFound
}

func (r *fakeAccountRepo) ListCredentials(_ context.Context, accountID int64) ([]domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Credential
	for _, c := range r.creds[accountID] {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeAccountRepo) ListRefreshableCredentials(_ context.Context) ([]domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Credential
	for i := range r.accounts {
		if r.accounts[i].Disabled {
			continue
		}
		for _, c := range r.creds[r.accounts[i].ID] {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) UpsertCredential(_ context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creds[cred.AccountID] == nil {
		r.creds[cred.AccountID] = make(map[string]*domain.Credential)
	}
	c := *cred
	r.creds[cred.AccountID][cred.Kind] = &c
	return nil
}

func (r *fakeAccountRepo) UpdateCredentialToken(_ context.Context, credID int64, accessToken string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, byKind := range r.creds {
		for _, c := range byKind {
			if c.ID == credID {
				c.AccessToken = accessToken
				c.TokenExpiresAt = expiresAt
				c.LastSyncAt = &now
			}
		}
	}
	return nil
}

func (r *fakeAccountRepo) FreezeCredential(_ context.Context, credID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = append(r.frozen, credID)
	for _, byKind := range r.creds {
		for _, c := range byKind {
			if c.ID == credID {
				c.AccessToken = ""
				c.TokenExpiresAt = nil
			}
		}
	}
	return nil
}

func (r *fakeAccountRepo) UpdateCredentialSync(_ context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byKind, ok := r.creds[cred.AccountID]; ok {
		c := *cred
		byKind[cred.Kind] = &c
	}
	return nil
}

// fakeUpstream 按脚本应答的上游客户端
type fakeUpstream struct {
	mu        sync.Mutex
	responses []*UpstreamResponse
	errs      []error
	requests  []*UpstreamRequest
}

func (u *fakeUpstream) Do(_ context.Context, req *UpstreamRequest) (*UpstreamResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)
	idx := len(u.requests) - 1
	if idx < len(u.errs) && u.errs[idx] != nil {
		return nil, u.errs[idx]
	}
	if idx < len(u.responses) {
		return u.responses[idx], nil
	}
	return u.responses[len(u.responses)-1], nil
}

func upstreamJSON(status int, body string) *UpstreamResponse {
	return &UpstreamResponse{
		StatusCode: status,
		Header:     map[string][]string{"Content-Type": {"application/json"}},
		Body:       newBytesReadCloser([]byte(body)),
	}
}

// fakeCodeAssist 按方法名应答的 CodeAssist 客户端
type fakeCodeAssist struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     []string
}

func newFakeCodeAssist() *fakeCodeAssist {
	return &fakeCodeAssist{responses: make(map[string][]byte), errs: make(map[string]error)}
}

func (c *fakeCodeAssist) Post(_ context.Context, _, method, _, _ string, _ any) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	if err, ok := c.errs[method]; ok {
		return nil, err
	}
	if body, ok := c.responses[method]; ok {
		return body, nil
	}
	return []byte(`{}`), nil
}

func (c *fakeCodeAssist) GetOperation(_ context.Context, _, name, _, _ string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "getOperation")
	if err, ok := c.errs["getOperation"]; ok {
		return nil, err
	}
	if body, ok := c.responses["getOperation"]; ok {
		return body, nil
	}
	_ = name
	return []byte(`{"done":true}`), nil
}

// fakeTokenClient 脚本化的 OAuth token 客户端
type fakeTokenClient struct {
	mu      sync.Mutex
	results map[string]*TokenRefreshResult
	errs    map[string]error
	calls   []string
}

func newFakeTokenClient() *fakeTokenClient {
	return &fakeTokenClient{results: make(map[string]*TokenRefreshResult), errs: make(map[string]error)}
}

func (c *fakeTokenClient) Refresh(_ context.Context, kind, refreshToken string) (*TokenRefreshResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, kind+"|"+refreshToken)
	if err, ok := c.errs[refreshToken]; ok {
		return nil, err
	}
	if res, ok := c.results[refreshToken]; ok {
		return res, nil
	}
	return &TokenRefreshResult{AccessToken: "refreshed-" + refreshToken, ExpiresIn: 3600}, nil
}
