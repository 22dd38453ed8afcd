package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/service"
)

type apiTokenRepository struct {
	db *sql.DB
}

// NewAPITokenRepository 创建访问令牌仓储实例。
func NewAPITokenRepository(db *sql.DB) service.APITokenRepository {
	return &apiTokenRepository{db: db}
}

const apiTokenColumns = "id, name, token, is_active, usage_count, last_used_at, created_at, updated_at"

func scanAPIToken(row interface{ Scan(...any) error }) (*domain.APIToken, error) {
	var t domain.APIToken
	var lastUsed sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &t.Token, &t.IsActive, &t.UsageCount, &lastUsed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		u := lastUsed.Time
		t.LastUsedAt = &u
	}
	return &t, nil
}

func (r *apiTokenRepository) List(ctx context.Context) ([]domain.APIToken, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+apiTokenColumns+" FROM api_tokens ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query api tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.APIToken
	for rows.Next() {
		t, err := scanAPIToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (r *apiTokenRepository) GetByToken(ctx context.Context, token string) (*domain.APIToken, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+apiTokenColumns+" FROM api_tokens WHERE token = ?", token)
	t, err := scanAPIToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrAPITokenNotFound
		}
		return nil, fmt.Errorf("get api token: %w", err)
	}
	return t, nil
}

func (r *apiTokenRepository) getByID(ctx context.Context, id int64) (*domain.APIToken, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+apiTokenColumns+" FROM api_tokens WHERE id = ?", id)
	t, err := scanAPIToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrAPITokenNotFound
		}
		return nil, fmt.Errorf("get api token %d: %w", id, err)
	}
	return t, nil
}

func (r *apiTokenRepository) Create(ctx context.Context, token *domain.APIToken) (*domain.APIToken, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO api_tokens (name, token, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, token.Name, token.Token, token.IsActive, now, now)
	if err != nil {
		return nil, fmt.Errorf("create api token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.getByID(ctx, id)
}

func (r *apiTokenRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE api_tokens SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set api token %d active: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return service.ErrAPITokenNotFound
	}
	return nil
}

func (r *apiTokenRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM api_tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete api token %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return service.ErrAPITokenNotFound
	}
	return nil
}

func (r *apiTokenRepository) MarkUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		"UPDATE api_tokens SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ? WHERE id = ?",
		now, now, id)
	if err != nil {
		return fmt.Errorf("mark api token %d used: %w", id, err)
	}
	return nil
}
