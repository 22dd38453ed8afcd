package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/service"
)

type accountRepository struct {
	db *sql.DB
}

// NewAccountRepository 创建账号仓储实例。
func NewAccountRepository(db *sql.DB) service.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, email, disabled, forbidden, status_reason, status_details,
	tier, label, quota_percent, quota_buckets, models, ineligible_tiers,
	last_sync_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var a domain.Account
	var statusDetails, quotaBuckets, models, ineligible string
	var lastSync sql.NullTime
	err := row.Scan(
		&a.ID, &a.Email, &a.Disabled, &a.Forbidden, &a.StatusReason, &statusDetails,
		&a.Tier, &a.Label, &a.QuotaPercent, &quotaBuckets, &models, &ineligible,
		&lastSync, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		a.LastSyncAt = &t
	}
	unmarshalJSONColumn(statusDetails, &a.StatusDetails)
	unmarshalJSONColumn(quotaBuckets, &a.QuotaBuckets)
	unmarshalJSONColumn(models, &a.Models)
	unmarshalJSONColumn(ineligible, &a.IneligibleTiers)
	return &a, nil
}

// unmarshalJSONColumn 解析 JSON 文本列，空串视为零值。
// 历史数据可能存有非法 JSON，忽略解析错误以免拖垮整表读取。
func unmarshalJSONColumn(raw string, v any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), v)
}

func marshalJSONColumn(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	s := string(data)
	if s == "null" {
		return ""
	}
	return s
}

func (r *accountRepository) ListActive(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE disabled = 0 AND forbidden = 0
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *accountRepository) ListAll(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (email, disabled, forbidden, status_reason, status_details, tier, label,
			quota_percent, quota_buckets, models, ineligible_tiers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, account.Email, account.Disabled, account.Forbidden, account.StatusReason,
		marshalJSONColumn(account.StatusDetails), account.Tier, account.Label,
		account.QuotaPercent, marshalJSONColumn(account.QuotaBuckets),
		marshalJSONColumn(account.Models), marshalJSONColumn(account.IneligibleTiers), now, now)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateAggregate 持久化同步后的账号级汇总字段。
func (r *accountRepository) UpdateAggregate(ctx context.Context, account *domain.Account) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			forbidden = ?, status_reason = ?, status_details = ?,
			tier = ?, label = ?, quota_percent = ?, quota_buckets = ?,
			models = ?, ineligible_tiers = ?, last_sync_at = ?, updated_at = ?
		WHERE id = ?
	`, account.Forbidden, account.StatusReason, marshalJSONColumn(account.StatusDetails),
		account.Tier, account.Label, account.QuotaPercent, marshalJSONColumn(account.QuotaBuckets),
		marshalJSONColumn(account.Models), marshalJSONColumn(account.IneligibleTiers),
		account.LastSyncAt, time.Now().UTC(), account.ID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", account.ID, err)
	}
	return nil
}

func (r *accountRepository) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE accounts SET disabled = ?, updated_at = ? WHERE id = ?", disabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set account %d disabled: %w", id, err)
	}
	return nil
}

const credentialColumns = `id, account_id, kind, access_token, refresh_token, token_expires_at,
	project_id, tier, models, quota_data, last_sync_at, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (*domain.Credential, error) {
	var c domain.Credential
	var models, quotaData string
	var expiresAt, lastSync sql.NullTime
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Kind, &c.AccessToken, &c.RefreshToken, &expiresAt,
		&c.ProjectID, &c.Tier, &models, &quotaData, &lastSync, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.TokenExpiresAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time
		c.LastSyncAt = &t
	}
	unmarshalJSONColumn(models, &c.Models)
	unmarshalJSONColumn(quotaData, &c.QuotaData)
	return &c, nil
}

func (r *accountRepository) GetCredential(ctx context.Context, accountID int64, kind string) (*domain.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials WHERE account_id = ? AND kind = ?`,
		accountID, kind)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential %d/%s: %w", accountID, kind, err)
	}
	return c, nil
}

func (r *accountRepository) ListCredentials(ctx context.Context, accountID int64) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials WHERE account_id = ? ORDER BY kind ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials %d: %w", accountID, err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

// ListRefreshableCredentials 返回未禁用账号的全部凭据，按账号分组刷新用。
func (r *accountRepository) ListRefreshableCredentials(ctx context.Context) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.account_id, c.kind, c.access_token, c.refresh_token, c.token_expires_at,
			c.project_id, c.tier, c.models, c.quota_data, c.last_sync_at, c.created_at, c.updated_at
		FROM oauth_credentials c
		JOIN accounts a ON a.id = c.account_id
		WHERE a.disabled = 0
		ORDER BY a.email ASC, c.kind ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list refreshable credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

func (r *accountRepository) UpsertCredential(ctx context.Context, cred *domain.Credential) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_credentials (account_id, kind, access_token, refresh_token, token_expires_at,
			project_id, tier, models, quota_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, kind) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
	`, cred.AccountID, cred.Kind, cred.AccessToken, cred.RefreshToken, cred.TokenExpiresAt,
		cred.ProjectID, cred.Tier, marshalJSONColumn(cred.Models), marshalJSONColumn(cred.QuotaData), now, now)
	if err != nil {
		return fmt.Errorf("upsert credential %d/%s: %w", cred.AccountID, cred.Kind, err)
	}
	return nil
}

// UpdateCredentialToken 写入刷新成功的 access token，并推进 last_sync_at。
func (r *accountRepository) UpdateCredentialToken(ctx context.Context, credID int64, accessToken string, expiresAt *time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_credentials SET access_token = ?, token_expires_at = ?, last_sync_at = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, expiresAt, now, now, credID)
	if err != nil {
		return fmt.Errorf("update credential token %d: %w", credID, err)
	}
	return nil
}

// FreezeCredential 清空 access token（invalid_grant 后冻结，等待重新授权）。
func (r *accountRepository) FreezeCredential(ctx context.Context, credID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_credentials SET access_token = '', token_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), credID)
	if err != nil {
		return fmt.Errorf("freeze credential %d: %w", credID, err)
	}
	return nil
}

// UpdateCredentialSync 持久化同步拿到的 project/tier/models/quota。
func (r *accountRepository) UpdateCredentialSync(ctx context.Context, cred *domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_credentials SET project_id = ?, tier = ?, models = ?, quota_data = ?, last_sync_at = ?, updated_at = ?
		WHERE id = ?
	`, cred.ProjectID, cred.Tier, marshalJSONColumn(cred.Models), marshalJSONColumn(cred.QuotaData),
		cred.LastSyncAt, time.Now().UTC(), cred.ID)
	if err != nil {
		return fmt.Errorf("update credential sync %d: %w", cred.ID, err)
	}
	return nil
}
