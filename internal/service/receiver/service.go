// Package receiver applies signed data-plane confirmations to tenant
// state. It owns the idempotency discipline: duplicate deliveries and
// already-converged transitions acknowledge cleanly, while genuinely
// out-of-sequence events are reported, never silently absorbed.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/signature"
	"go.uber.org/zap"
)

// Outcome of applying one inbound event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored" // unknown event type
	// OutcomeIllegal: signature and parse were fine but the transition is
	// out of sequence. Acknowledged (the sender must not retry) and
	// logged as a sequencing bug.
	OutcomeIllegal Outcome = "illegal_transition"
)

var (
	// ErrBadEnvelope wraps parse failures; like signature errors it is
	// non-retryable and rejected at the boundary.
	ErrBadEnvelope = errors.New("bad webhook envelope")

	ErrUnknownTenant = errors.New("event references unknown tenant")
)

type Service struct {
	tenants   repository.TenantsRepository
	log       *zap.Logger
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func New(tenantsRepo repository.TenantsRepository, log *zap.Logger, secret []byte, tolerance time.Duration) *Service {
	if tolerance <= 0 {
		tolerance = signature.DefaultTolerance
	}
	return &Service{
		tenants:   tenantsRepo,
		log:       log,
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock overrides the staleness clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Handle verifies the signature, parses the envelope and applies the
// transition. Signature and parse failures propagate (the HTTP layer
// turns them into non-2xx so the sender retries); everything after a
// valid envelope resolves to an Outcome.
func (s *Service) Handle(ctx context.Context, body []byte, sigHeader string) (Outcome, error) {
	if err := signature.Verify(s.secret, body, sigHeader, s.tolerance, s.now()); err != nil {
		return "", err
	}

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	et, known := model.ParseEventType(env.Event)
	if !known {
		s.log.Info("ignoring unknown webhook event", zap.String("event", env.Event))
		return OutcomeIgnored, nil
	}

	var data model.EventData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("%w: bad data: %v", ErrBadEnvelope, err)
	}
	if data.TenantID == "" {
		return "", fmt.Errorf("%w: missing tenant_id", ErrBadEnvelope)
	}

	return s.apply(ctx, et, data)
}

func (s *Service) apply(ctx context.Context, et model.EventType, data model.EventData) (Outcome, error) {
	from, target, _ := et.Transition()

	t, err := s.tenants.GetByID(ctx, data.TenantID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, data.TenantID)
	}
	if from == "" {
		// deleted fires from any live state
		from = t.Status
	}

	changed, err := model.Apply(from, t.Status, target)
	if errors.Is(err, model.ErrIllegalTransition) {
		s.log.Warn("out-of-sequence tenant event",
			zap.String("tenant_id", t.ID),
			zap.String("event", et.String()),
			zap.String("current", t.Status.String()),
			zap.String("target", target.String()))
		return OutcomeIllegal, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeNoop, nil
	}

	u := repository.StatusUpdate{From: t.Status, To: target}
	switch et {
	case model.EventTenantCreated:
		// record the linked control-plane identifier on confirmation
		if data.ExternalID != "" {
			u.ExternalID = &data.ExternalID
		}
	case model.EventTenantDisabled:
		if data.Reason != "" {
			u.DisabledReason = &data.Reason
		} else {
			empty := ""
			u.DisabledReason = &empty
		}
	}

	matched, err := s.tenants.UpdateStatus(ctx, nil, t.ID, u)
	if err != nil {
		return "", err
	}
	if !matched {
		// the row moved between read and CAS; a concurrent delivery of
		// the same event already converged it
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}
