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

type modelMappingRepository struct {
	db *sql.DB
}

// NewModelMappingRepository 创建模型映射仓储实例。
func NewModelMappingRepository(db *sql.DB) service.ModelMappingRepository {
	return &modelMappingRepository{db: db}
}

const modelMappingColumns = "id, pattern, target, priority, is_active, created_at, updated_at"

func scanModelMapping(row interface{ Scan(...any) error }) (*domain.ModelMapping, error) {
	var m domain.ModelMapping
	err := row.Scan(&m.ID, &m.Pattern, &m.Target, &m.Priority, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *modelMappingRepository) queryMappings(ctx context.Context, query string, args ...any) ([]domain.ModelMapping, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query model mappings: %w", err)
	}
	defer rows.Close()

	var mappings []domain.ModelMapping
	for rows.Next() {
		m, err := scanModelMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// ListActive 启用的规则，优先级高的在前，同优先级按创建时间。
func (r *modelMappingRepository) ListActive(ctx context.Context) ([]domain.ModelMapping, error) {
	return r.queryMappings(ctx,
		"SELECT "+modelMappingColumns+" FROM model_mappings WHERE is_active = 1 ORDER BY priority DESC, created_at ASC")
}

func (r *modelMappingRepository) List(ctx context.Context) ([]domain.ModelMapping, error) {
	return r.queryMappings(ctx,
		"SELECT "+modelMappingColumns+" FROM model_mappings ORDER BY priority DESC, created_at ASC")
}

func (r *modelMappingRepository) GetByID(ctx context.Context, id int64) (*domain.ModelMapping, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+modelMappingColumns+" FROM model_mappings WHERE id = ?", id)
	m, err := scanModelMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrModelMappingNotFound
		}
		return nil, fmt.Errorf("get model mapping %d: %w", id, err)
	}
	return m, nil
}

func (r *modelMappingRepository) Create(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO model_mappings (pattern, target, priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, mapping.Pattern, mapping.Target, mapping.Priority, mapping.IsActive, now, now)
	if err != nil {
		return nil, fmt.Errorf("create model mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *modelMappingRepository) Update(ctx context.Context, mapping *domain.ModelMapping) (*domain.ModelMapping, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE model_mappings SET pattern = ?, target = ?, priority = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, mapping.Pattern, mapping.Target, mapping.Priority, mapping.IsActive, time.Now().UTC(), mapping.ID)
	if err != nil {
		return nil, fmt.Errorf("update model mapping %d: %w", mapping.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, service.ErrModelMappingNotFound
	}
	return r.GetByID(ctx, mapping.ID)
}

func (r *modelMappingRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM model_mappings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete model mapping %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return service.ErrModelMappingNotFound
	}
	return nil
}
