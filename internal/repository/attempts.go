package repository

import (
	"context"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptsRepository records delivery attempts in ClickHouse
// (append-only audit log, one row per HTTP attempt).
type AttemptsRepository interface {
	Insert(ctx context.Context, a model.DeliveryAttempt) error
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]model.DeliveryAttempt, error)
}

type attemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewAttemptsRepository(ch *sqlx.DB) AttemptsRepository {
	return &attemptsRepository{ch: ch}
}

func (r *attemptsRepository) Insert(ctx context.Context, a model.DeliveryAttempt) error {
	const q = `
		INSERT INTO tenantsync.delivery_attempts
		    (event_id, tenant_id, event_type, attempt, status_code, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		a.EventID, a.TenantID, a.EventType, a.Attempt, a.StatusCode, a.Error, a.DurationMs, a.CreatedAt,
	)
	return err
}

func (r *attemptsRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, tenant_id, event_type, attempt, status_code, error, duration_ms, created_at
		FROM tenantsync.delivery_attempts
	`
	args := []any{}
	if tenantID != "" {
		q += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.DeliveryAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
