package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboundRepository defines persistence for the outbound_events table.
// Rows are an audit trail: they are claimed and re-marked, never deleted.
type OutboundRepository interface {
	// Insert writes a new pending event. If tx is nil it opens/commits an
	// internal transaction; otherwise it joins the caller's.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboundEvent) error
	GetByID(ctx context.Context, id string) (*model.OutboundEvent, error)
	// ClaimDue selects up to limit due pending|failed events in creation
	// order and moves each to sending via per-row compare-and-set, so two
	// drainers racing over the same rows split them without double-claim.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.OutboundEvent, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextRetryAt time.Time) error
	// Release puts a claimed event back to pending without burning an
	// attempt (used when an earlier event for the same tenant failed and
	// ordering forbids sending this one yet).
	Release(ctx context.Context, id string) error
	// Rearm resets the attempt counter of a permanently failed event so
	// the drain picks it up again. Operator action.
	Rearm(ctx context.Context, id string) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]model.OutboundEvent, error)
}

type OutboundRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboundRepository(db *sqlx.DB) *OutboundRepositoryImpl {
	return &OutboundRepositoryImpl{db: db}
}

var _ OutboundRepository = (*OutboundRepositoryImpl)(nil)

func (r *OutboundRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *OutboundRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboundEvent) error {
	const q = `
		INSERT INTO outbound_events
		    (id, tenant_id, target_url, event_type, payload, status, attempts, max_attempts, next_retry_at, created_at, updated_at)
		VALUES
		    (?,  ?,         ?,          ?,          ?,       'pending', 0,     ?,            NOW(),         NOW(),      NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ev.ID, ev.TenantID, ev.TargetURL, ev.EventType, ev.Payload, ev.MaxAttempts,
		)
		return err
	})
}

const eventColumns = `
	id, tenant_id, target_url, event_type, payload, status, attempts,
	max_attempts, last_error, next_retry_at, sent_at, created_at, updated_at
`

func (r *OutboundRepositoryImpl) GetByID(ctx context.Context, id string) (*model.OutboundEvent, error) {
	var ev model.OutboundEvent
	err := r.db.GetContext(ctx, &ev, `SELECT `+eventColumns+` FROM outbound_events WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *OutboundRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.OutboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var candidates []model.OutboundEvent
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT `+eventColumns+`
		  FROM outbound_events
		 WHERE status IN ('pending', 'failed')
		   AND attempts < max_attempts
		   AND next_retry_at <= ?
		 ORDER BY created_at
		 LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]model.OutboundEvent, 0, len(candidates))
	for _, ev := range candidates {
		res, err := r.db.ExecContext(ctx, `
			UPDATE outbound_events
			   SET status = 'sending', updated_at = NOW()
			 WHERE id = ? AND status = ?
		`, ev.ID, ev.Status.String())
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			// lost the race to another drainer
			continue
		}
		ev.Status = model.EventSending
		claimed = append(claimed, ev)
	}
	return claimed, nil
}

func (r *OutboundRepositoryImpl) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbound_events
		   SET status = 'sent', sent_at = ?, last_error = NULL, updated_at = NOW()
		 WHERE id = ? AND status = 'sending'
	`, at, id)
	return err
}

func (r *OutboundRepositoryImpl) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbound_events
		   SET status = 'failed', attempts = ?, last_error = ?, next_retry_at = ?, updated_at = NOW()
		 WHERE id = ? AND status = 'sending'
	`, attempts, lastErr, nextRetryAt, id)
	return err
}

func (r *OutboundRepositoryImpl) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbound_events
		   SET status = 'pending', updated_at = NOW()
		 WHERE id = ? AND status = 'sending'
	`, id)
	return err
}

func (r *OutboundRepositoryImpl) Rearm(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbound_events
		   SET attempts = 0, next_retry_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND status = 'failed'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *OutboundRepositoryImpl) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]model.OutboundEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []model.OutboundEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+eventColumns+`
		  FROM outbound_events
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
