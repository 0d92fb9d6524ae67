package model

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type TenantStatus string

const (
	StatusPending  TenantStatus = "pending"
	StatusActive   TenantStatus = "active"
	StatusDisabled TenantStatus = "disabled"
	StatusDeleted  TenantStatus = "deleted"
)

func (s TenantStatus) String() string {
	return string(s)
}

func (s TenantStatus) Valid() bool {
	return s == StatusPending || s == StatusActive || s == StatusDisabled || s == StatusDeleted
}

// ParseTenantStatus normalizes input. Returns (value, true) if valid.
func ParseTenantStatus(s string) (TenantStatus, bool) {
	st := TenantStatus(strings.ToLower(strings.TrimSpace(s)))
	if st.Valid() {
		return st, true
	}
	return "", false
}

// ErrIllegalTransition indicates a status move outside the lifecycle
// table. It is surfaced to callers, never silently accepted, because it
// points at a sequencing bug between control plane and data plane.
var ErrIllegalTransition = errors.New("illegal tenant status transition")

// transitions is the lifecycle table. deleted is terminal.
var transitions = map[TenantStatus][]TenantStatus{
	StatusPending:  {StatusActive, StatusDeleted},
	StatusActive:   {StatusDisabled, StatusDeleted},
	StatusDisabled: {StatusActive, StatusDeleted},
	StatusDeleted:  {},
}

// Apply resolves one requested transition against the tenant's current
// status. from names the edge the request rides: the state an event was
// emitted on, or the only state a command is legal from. Three cases:
//
//   - current == target: already converged (duplicate delivery), no-op
//   - current == from and from -> target is in the table: apply
//   - anything else: out of sequence, ErrIllegalTransition
//
// The from guard matters: a stale pending->active event redelivered
// after a disable must not re-activate the tenant just because
// disabled->active also happens to be a legal edge.
func Apply(from, current, target TenantStatus) (changed bool, err error) {
	if current == target {
		return false, nil
	}
	if current != from {
		return false, fmt.Errorf("%w: %s -> %s applied on %s", ErrIllegalTransition, from, target, current)
	}
	for _, next := range transitions[from] {
		if next == target {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, target)
}

// Tenant is the DB entity persisted in the tenants table. The subdomain
// is globally unique and immutable once assigned. disabled_at and
// disabled_reason are set only while status=disabled.
type Tenant struct {
	ID             string         `db:"id"`
	OwnerUserID    int64          `db:"owner_user_id"`
	DisplayName    string         `db:"display_name"`
	Subdomain      string         `db:"subdomain"`
	Status         TenantStatus   `db:"status"`
	ExternalID     sql.NullString `db:"external_id"`
	DisabledAt     *time.Time     `db:"disabled_at"`
	DisabledReason sql.NullString `db:"disabled_reason"`
	AdminNotes     sql.NullString `db:"admin_notes"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// NormalizeSubdomain lowercases and trims a requested subdomain.
func NormalizeSubdomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
