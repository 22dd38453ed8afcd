package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/service"
)

type requestLogRepository struct {
	db *sql.DB
}

// NewRequestLogRepository 创建请求日志仓储实例。
func NewRequestLogRepository(db *sql.DB) service.RequestLogRepository {
	return &requestLogRepository{db: db}
}

func (r *requestLogRepository) Insert(ctx context.Context, entry *domain.RequestLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO request_logs (method, path, protocol, model, original_model, stream,
			status_code, duration_ms, input_tokens, output_tokens, account_id, account_email, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Method, entry.Path, entry.Protocol, entry.Model, entry.OriginalModel, entry.Stream,
		entry.StatusCode, entry.DurationMs, entry.InputTokens, entry.OutputTokens,
		entry.AccountID, entry.AccountEmail, entry.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

func (r *requestLogRepository) List(ctx context.Context, limit, offset int) ([]domain.RequestLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, method, path, protocol, model, original_model, stream,
			status_code, duration_ms, input_tokens, output_tokens, account_id, account_email, error, created_at
		FROM request_logs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.RequestLog
	for rows.Next() {
		var l domain.RequestLog
		if err := rows.Scan(&l.ID, &l.Method, &l.Path, &l.Protocol, &l.Model, &l.OriginalModel, &l.Stream,
			&l.StatusCode, &l.DurationMs, &l.InputTokens, &l.OutputTokens,
			&l.AccountID, &l.AccountEmail, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *requestLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs").Scan(&count); err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return count, nil
}

func (r *requestLogRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM request_logs"); err != nil {
		return fmt.Errorf("clear request logs: %w", err)
	}
	return nil
}
