package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateSubdomain maps the unique-index violation on
// tenants.subdomain. Subdomains are immutable once assigned.
var ErrDuplicateSubdomain = errors.New("subdomain already taken")

// StatusUpdate describes a guarded single-row status move. From is the
// expected current status (compare-and-set guard); the update applies
// only if the row still matches it.
type StatusUpdate struct {
	From model.TenantStatus
	To   model.TenantStatus

	// DisabledReason is recorded when To=disabled. disabled_at and
	// disabled_reason are cleared on any other target.
	DisabledReason *string

	// ExternalID links the control-plane identifier, recorded when a
	// tenant.created confirmation arrives.
	ExternalID *string
}

// TenantsRepository defines persistence for the tenants table.
type TenantsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, t model.Tenant) error
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
	List(ctx context.Context, status model.TenantStatus, limit, offset int) ([]model.Tenant, error)
	// UpdateStatus applies a CAS status move; reports whether the row
	// matched the guard.
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, u StatusUpdate) (bool, error)
	UpdateNotes(ctx context.Context, id, notes string) (bool, error)
	Stats(ctx context.Context) (TenantStats, error)
}

type TenantStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Active   int64 `json:"active"`
	Disabled int64 `json:"disabled"`
	Deleted  int64 `json:"deleted"`
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

func (r *TenantsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

// Insert writes a new tenant row with status=pending.
func (r *TenantsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, t model.Tenant) error {
	const q = `
		INSERT INTO tenants
		    (id, owner_user_id, display_name, subdomain, status, admin_notes, created_at, updated_at)
		VALUES
		    (?,  ?,             ?,            ?,         'pending', ?,        NOW(),      NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			t.ID, t.OwnerUserID, t.DisplayName, t.Subdomain, t.AdminNotes,
		)
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrDuplicateSubdomain
		}
		return err
	})
}

const tenantColumns = `
	id, owner_user_id, display_name, subdomain, status, external_id,
	disabled_at, disabled_reason, admin_notes, created_at, updated_at
`

func (r *TenantsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantsRepositoryImpl) GetBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = ? LIMIT 1`, subdomain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantsRepositoryImpl) List(ctx context.Context, status model.TenantStatus, limit, offset int) ([]model.Tenant, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + tenantColumns + ` FROM tenants`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.Tenant
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatus performs the guarded single-row move. Two concurrent
// writers cannot both win: the WHERE status guard makes the update an
// atomic compare-and-set.
func (r *TenantsRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, u StatusUpdate) (bool, error) {
	q := `UPDATE tenants SET status = ?, updated_at = NOW()`
	args := []any{u.To.String()}

	if u.To == model.StatusDisabled {
		q += `, disabled_at = NOW(), disabled_reason = ?`
		args = append(args, u.DisabledReason)
	} else {
		q += `, disabled_at = NULL, disabled_reason = NULL`
	}
	if u.ExternalID != nil {
		q += `, external_id = ?`
		args = append(args, *u.ExternalID)
	}

	q += ` WHERE id = ? AND status = ?`
	args = append(args, id, u.From.String())

	var matched bool
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		matched = n > 0
		return nil
	})
	return matched, err
}

func (r *TenantsRepositoryImpl) UpdateNotes(ctx context.Context, id, notes string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET admin_notes = ?, updated_at = NOW() WHERE id = ?`, notes, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TenantsRepositoryImpl) Stats(ctx context.Context) (TenantStats, error) {
	rows := []struct {
		Status model.TenantStatus `db:"status"`
		Count  int64              `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS cnt FROM tenants GROUP BY status`); err != nil {
		return TenantStats{}, err
	}

	var s TenantStats
	for _, row := range rows {
		s.Total += row.Count
		switch row.Status {
		case model.StatusPending:
			s.Pending = row.Count
		case model.StatusActive:
			s.Active = row.Count
		case model.StatusDisabled:
			s.Disabled = row.Count
		case model.StatusDeleted:
			s.Deleted = row.Count
		}
	}
	return s, nil
}
