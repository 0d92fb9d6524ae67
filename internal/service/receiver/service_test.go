package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/signature"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type fakeTenantStore struct {
	mu      sync.Mutex
	tenants map[string]*model.Tenant
}

func newFakeTenantStore(ts ...*model.Tenant) *fakeTenantStore {
	s := &fakeTenantStore{tenants: map[string]*model.Tenant{}}
	for _, t := range ts {
		s.tenants[t.ID] = t
	}
	return s
}

func (s *fakeTenantStore) Insert(_ context.Context, _ *sqlx.Tx, t model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = &t
	return nil
}

func (s *fakeTenantStore) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTenantStore) GetBySubdomain(_ context.Context, sub string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Subdomain == sub {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeTenantStore) List(_ context.Context, _ model.TenantStatus, _, _ int) ([]model.Tenant, error) {
	return nil, nil
}

func (s *fakeTenantStore) UpdateStatus(_ context.Context, _ *sqlx.Tx, id string, u repository.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok || t.Status != u.From {
		return false, nil
	}
	t.Status = u.To
	if u.To == model.StatusDisabled {
		now := time.Now()
		t.DisabledAt = &now
		if u.DisabledReason != nil {
			t.DisabledReason.String = *u.DisabledReason
			t.DisabledReason.Valid = true
		}
	} else {
		t.DisabledAt = nil
		t.DisabledReason.String = ""
		t.DisabledReason.Valid = false
	}
	if u.ExternalID != nil {
		t.ExternalID.String = *u.ExternalID
		t.ExternalID.Valid = true
	}
	return true, nil
}

func (s *fakeTenantStore) UpdateNotes(_ context.Context, id, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return false, nil
	}
	t.AdminNotes.String = notes
	t.AdminNotes.Valid = true
	return true, nil
}

func (s *fakeTenantStore) Stats(_ context.Context) (repository.TenantStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st repository.TenantStats
	for _, t := range s.tenants {
		st.Total++
		switch t.Status {
		case model.StatusPending:
			st.Pending++
		case model.StatusActive:
			st.Active++
		case model.StatusDisabled:
			st.Disabled++
		case model.StatusDeleted:
			st.Deleted++
		}
	}
	return st, nil
}

var _ repository.TenantsRepository = (*fakeTenantStore)(nil)

var testSecret = []byte("whsec_receiver")

func signedBody(t *testing.T, event string, data model.EventData, ts int64) (body []byte, header string) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	body, err = json.Marshal(model.Envelope{Event: event, Timestamp: ts, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	return body, signature.Sign(testSecret, body, ts)
}

func newTestService(store *fakeTenantStore, at int64) *Service {
	return New(store, zap.NewNop(), testSecret, signature.DefaultTolerance).
		WithClock(func() time.Time { return time.Unix(at, 0) })
}

func TestHandleCreatedActivatesAndLinksExternalID(t *testing.T) {
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: model.StatusPending})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.created",
		model.EventData{TenantID: "t1", ExternalID: "cp-42", Subdomain: "acme", Status: "active"}, 1700000000)

	outcome, err := svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}

	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.ExternalID.String != "cp-42" {
		t.Fatalf("external_id = %q, want cp-42", got.ExternalID.String)
	}

	// duplicate delivery of the same webhook is a no-op success
	outcome, err = svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("duplicate handle: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Fatalf("duplicate outcome = %s, want noop", outcome)
	}
	got, _ = store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusActive {
		t.Fatalf("status after duplicate = %s, want active", got.Status)
	}
}

func TestHandleSubscriptionAliases(t *testing.T) {
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: model.StatusActive})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.subscription.cancelled",
		model.EventData{TenantID: "t1", Reason: "non-payment"}, 1700000000)
	if outcome, err := svc.Handle(context.Background(), body, header); err != nil || outcome != OutcomeApplied {
		t.Fatalf("cancelled: outcome=%v err=%v", outcome, err)
	}
	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusDisabled || got.DisabledReason.String != "non-payment" {
		t.Fatalf("got status=%s reason=%q", got.Status, got.DisabledReason.String)
	}

	body, header = signedBody(t, "tenant.subscription.updated",
		model.EventData{TenantID: "t1"}, 1700000000)
	if outcome, err := svc.Handle(context.Background(), body, header); err != nil || outcome != OutcomeApplied {
		t.Fatalf("updated: outcome=%v err=%v", outcome, err)
	}
	got, _ = store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.DisabledReason.Valid || got.DisabledAt != nil {
		t.Fatal("disabled fields must clear on re-enable")
	}
}

func TestHandleStaleCreatedDoesNotReactivate(t *testing.T) {
	// pending->active redelivered after the tenant was disabled: the
	// target is reachable from disabled too, but the event's edge starts
	// from pending, so it must be reported, not applied
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: model.StatusDisabled})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.created",
		model.EventData{TenantID: "t1", ExternalID: "cp-42"}, 1700000000)
	outcome, err := svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeIllegal {
		t.Fatalf("outcome = %s, want illegal_transition", outcome)
	}
	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusDisabled {
		t.Fatalf("status = %s, disabled tenant must not be re-activated", got.Status)
	}
	if got.ExternalID.Valid {
		t.Fatal("external_id must not be linked by a rejected event")
	}
}

func TestHandleEnabledOnPendingIsIllegal(t *testing.T) {
	// enabled rides the disabled->active edge; a pending tenant has not
	// been confirmed yet and must not be activated by it
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: model.StatusPending})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.enabled", model.EventData{TenantID: "t1"}, 1700000000)
	outcome, err := svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeIllegal {
		t.Fatalf("outcome = %s, want illegal_transition", outcome)
	}
	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending untouched", got.Status)
	}
}

func TestHandleDeletedFromAnyLiveState(t *testing.T) {
	for _, st := range []model.TenantStatus{model.StatusPending, model.StatusActive, model.StatusDisabled} {
		store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: st})
		svc := newTestService(store, 1700000000)

		body, header := signedBody(t, "tenant.deleted", model.EventData{TenantID: "t1"}, 1700000000)
		outcome, err := svc.Handle(context.Background(), body, header)
		if err != nil {
			t.Fatalf("from %s: %v", st, err)
		}
		if outcome != OutcomeApplied {
			t.Fatalf("from %s: outcome = %s, want applied", st, outcome)
		}
	}
}

func TestHandleIllegalTransitionAcknowledged(t *testing.T) {
	// deleted is terminal; an enable arriving afterwards is a sequencing
	// bug, reported but acknowledged
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Subdomain: "acme", Status: model.StatusDeleted})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.enabled", model.EventData{TenantID: "t1"}, 1700000000)
	outcome, err := svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeIllegal {
		t.Fatalf("outcome = %s, want illegal_transition", outcome)
	}
	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusDeleted {
		t.Fatalf("status = %s, deleted is terminal", got.Status)
	}
}

func TestHandleUnknownEventIgnored(t *testing.T) {
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Status: model.StatusActive})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.renamed", model.EventData{TenantID: "t1"}, 1700000000)
	outcome, err := svc.Handle(context.Background(), body, header)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
}

func TestHandleSignatureFailures(t *testing.T) {
	store := newFakeTenantStore(&model.Tenant{ID: "t1", Status: model.StatusPending})
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.created", model.EventData{TenantID: "t1"}, 1700000000)

	if _, err := svc.Handle(context.Background(), body, "t=1700000000,v1=deadbeef"); !errors.Is(err, signature.ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
	if _, err := svc.Handle(context.Background(), body, "nonsense"); !errors.Is(err, signature.ErrMalformedSignature) {
		t.Fatalf("want ErrMalformedSignature, got %v", err)
	}

	stale := newTestService(store, 1700000000+400)
	if _, err := stale.Handle(context.Background(), body, header); !errors.Is(err, signature.ErrStaleSignature) {
		t.Fatalf("want ErrStaleSignature, got %v", err)
	}

	// nothing applied
	got, _ := store.GetByID(context.Background(), "t1")
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending untouched", got.Status)
	}
}

func TestHandleBadEnvelope(t *testing.T) {
	store := newFakeTenantStore()
	svc := newTestService(store, 1700000000)

	body := []byte("not json")
	header := signature.Sign(testSecret, body, 1700000000)
	if _, err := svc.Handle(context.Background(), body, header); !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("want ErrBadEnvelope, got %v", err)
	}

	body, header = signedBody(t, "tenant.created", model.EventData{}, 1700000000)
	if _, err := svc.Handle(context.Background(), body, header); !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("missing tenant_id: want ErrBadEnvelope, got %v", err)
	}
}

func TestHandleUnknownTenant(t *testing.T) {
	store := newFakeTenantStore()
	svc := newTestService(store, 1700000000)

	body, header := signedBody(t, "tenant.created", model.EventData{TenantID: "ghost"}, 1700000000)
	if _, err := svc.Handle(context.Background(), body, header); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("want ErrUnknownTenant, got %v", err)
	}
}
