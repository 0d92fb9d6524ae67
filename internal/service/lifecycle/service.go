// Package lifecycle implements the data-plane side of tenant
// synchronization: each command commits its local state change and an
// outbound confirmation event in a single transaction, so the control
// plane is notified without coupling the caller's response latency to
// webhook delivery.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/provision"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrConflict means the tenant row moved under us between read and
	// guarded update. Callers retry the whole request.
	ErrConflict = errors.New("tenant modified concurrently")
)

// Service atomically persists tenant state changes together with their
// outbound confirmation events.
type Service struct {
	db       *sqlx.DB
	tenants  repository.TenantsRepository
	outbound repository.OutboundRepository
	users    repository.UsersRepository
	prov     provision.Provisioner
	log      *zap.Logger

	targetURL   string
	maxAttempts int
}

// New constructs the lifecycle service.
func New(
	db *sqlx.DB,
	tenantsRepo repository.TenantsRepository,
	outboundRepo repository.OutboundRepository,
	usersRepo repository.UsersRepository,
	prov provision.Provisioner,
	log *zap.Logger,
	targetURL string,
	maxAttempts int,
) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Service{
		db:          db,
		tenants:     tenantsRepo,
		outbound:    outboundRepo,
		users:       usersRepo,
		prov:        prov,
		log:         log,
		targetURL:   targetURL,
		maxAttempts: maxAttempts,
	}
}

// Create registers a new tenant with status=pending, resolving (or
// creating) the owner by email, and enqueues a tenant.created event.
// Fails with repository.ErrDuplicateSubdomain when the subdomain is
// taken.
func (s *Service) Create(ctx context.Context, ownerEmail, displayName, subdomain string) (*model.Tenant, error) {
	subdomain = model.NormalizeSubdomain(subdomain)
	if subdomain == "" {
		subdomain = slugify(displayName)
	}
	if subdomain == "" {
		return nil, fmt.Errorf("tenant needs a subdomain or a display name to derive one")
	}

	tenantID := util.New()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := s.users.GetByEmail(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}
	var ownerID int64
	if owner != nil {
		ownerID = owner.ID
	} else {
		ownerID, err = s.users.Insert(ctx, tx, ownerEmail, ownerEmail)
		if err != nil {
			return nil, fmt.Errorf("create owner: %w", err)
		}
	}

	t := model.Tenant{
		ID:          tenantID,
		OwnerUserID: ownerID,
		DisplayName: strings.TrimSpace(displayName),
		Subdomain:   subdomain,
		Status:      model.StatusPending,
	}
	if err := s.tenants.Insert(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, tx, t, model.EventTenantCreated, ""); err != nil {
		return nil, fmt.Errorf("enqueue created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Storage is an external collaborator; a provisioning failure leaves
	// the tenant pending and is retried by re-running create tooling.
	if err := s.prov.Create(ctx, subdomain); err != nil {
		s.log.Warn("tenant storage provisioning failed",
			zap.String("tenant_id", tenantID), zap.String("subdomain", subdomain), zap.Error(err))
	}

	return s.tenants.GetByID(ctx, tenantID)
}

// Disable moves an active tenant to disabled. Disabling an
// already-disabled tenant is a no-op success; disabling from any other
// state is illegal.
func (s *Service) Disable(ctx context.Context, id, reason string) (*model.Tenant, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := model.Apply(model.StatusActive, t.Status, model.StatusDisabled)
	if err != nil {
		return nil, err
	}
	if !changed {
		return t, nil
	}

	err = s.transition(ctx, *t, repository.StatusUpdate{
		From:           t.Status,
		To:             model.StatusDisabled,
		DisabledReason: &reason,
	}, model.EventTenantDisabled, reason)
	if err != nil {
		return nil, err
	}
	return s.tenants.GetByID(ctx, id)
}

// Enable moves a disabled tenant back to active. Enabling an active
// tenant is a no-op success with no event enqueued; enabling a pending
// tenant is illegal (activation only happens via the data-plane
// confirmation).
func (s *Service) Enable(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := model.Apply(model.StatusDisabled, t.Status, model.StatusActive)
	if err != nil {
		return nil, err
	}
	if !changed {
		return t, nil
	}

	err = s.transition(ctx, *t, repository.StatusUpdate{
		From: t.Status,
		To:   model.StatusActive,
	}, model.EventTenantEnabled, "")
	if err != nil {
		return nil, err
	}
	return s.tenants.GetByID(ctx, id)
}

// Delete marks a tenant deleted (terminal) and drops its storage
// best-effort; the drop never blocks the delete from completing.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	// delete is legal from any live state
	changed, err := model.Apply(t.Status, t.Status, model.StatusDeleted)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	err = s.transition(ctx, *t, repository.StatusUpdate{
		From: t.Status,
		To:   model.StatusDeleted,
	}, model.EventTenantDeleted, "")
	if err != nil {
		return err
	}

	if err := s.prov.Drop(ctx, t.Subdomain); err != nil {
		s.log.Warn("tenant storage cleanup failed",
			zap.String("tenant_id", id), zap.String("subdomain", t.Subdomain), zap.Error(err))
	}
	return nil
}

// UpdateNotes replaces the admin notes on a tenant. No event: notes are
// data-plane-local operator annotations.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (*model.Tenant, error) {
	ok, err := s.tenants.UpdateNotes(ctx, id, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTenantNotFound
	}
	return s.tenants.GetByID(ctx, id)
}

// RearmEvent resets a permanently failed outbound event so the drain
// retries it. Operator action after max_attempts exhaustion.
func (s *Service) RearmEvent(ctx context.Context, eventID string) (bool, error) {
	return s.outbound.Rearm(ctx, eventID)
}

func (s *Service) Stats(ctx context.Context) (repository.TenantStats, error) {
	return s.tenants.Stats(ctx)
}

func (s *Service) load(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// transition runs the guarded status update and the outbound event
// insert in one transaction.
func (s *Service) transition(ctx context.Context, t model.Tenant, u repository.StatusUpdate, et model.EventType, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	matched, err := s.tenants.UpdateStatus(ctx, tx, t.ID, u)
	if err != nil {
		return err
	}
	if !matched {
		return ErrConflict
	}

	t.Status = u.To
	if err := s.enqueue(ctx, tx, t, et, reason); err != nil {
		return fmt.Errorf("enqueue %s event: %w", et, err)
	}

	return tx.Commit()
}

func (s *Service) enqueue(ctx context.Context, tx *sqlx.Tx, t model.Tenant, et model.EventType, reason string) error {
	data := model.EventData{
		TenantID:   t.ID,
		ExternalID: nullStr(t.ExternalID),
		Subdomain:  t.Subdomain,
		Status:     t.Status.String(),
		Reason:     reason,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.outbound.Insert(ctx, tx, model.OutboundEvent{
		ID:          util.New(),
		TenantID:    t.ID,
		TargetURL:   s.targetURL,
		EventType:   et.String(),
		Payload:     payload,
		MaxAttempts: s.maxAttempts,
	})
}

func nullStr(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

// slugify derives a subdomain from a display name: lowercase, runs of
// non-alphanumerics collapsed to single dashes.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
