package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/crmkit/tenant-sync/internal/metrics"
	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/signature"
	"go.uber.org/zap"
)

// Deliverer drains the outbound_events queue:
//   - claims due events via per-row compare-and-set (safe to run in
//     many processes against the same store),
//   - signs each envelope with a fresh timestamp,
//   - POSTs it to the event's target URL,
//   - schedules exponential-backoff retries on anything but a 2xx.
//
// Events of one tenant are delivered in creation order; a failure stops
// the rest of that tenant's claimed group so ordering survives retries.
// Groups for different tenants go out concurrently, so one dead
// endpoint cannot starve the batch.
type Deliverer struct {
	// Dependencies
	Outbound repository.OutboundRepository
	Attempts repository.AttemptsRepository // nil disables the audit log
	Log      *zap.Logger

	// Behavior
	Secret     []byte
	BatchLimit int
	Interval   time.Duration // drain cadence; correctness only needs eventual re-attempt
	BaseDelay  time.Duration // backoff base: base * 2^attempts
	Timeout    time.Duration // per-POST bound so a slow endpoint cannot stall the group

	client *http.Client
	now    func() time.Time
}

// NewDeliverer builds a worker with sane defaults.
func NewDeliverer(outbound repository.OutboundRepository, attempts repository.AttemptsRepository, log *zap.Logger, secret []byte) *Deliverer {
	return &Deliverer{
		Outbound:   outbound,
		Attempts:   attempts,
		Log:        log,
		Secret:     secret,
		BatchLimit: 50,
		Interval:   5 * time.Second,
		BaseDelay:  30 * time.Second,
		Timeout:    10 * time.Second,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// WithClock overrides the delivery clock. Tests only.
func (d *Deliverer) WithClock(now func() time.Time) *Deliverer {
	d.now = now
	return d
}

// Run drains on a ticker until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) error {
	if d.BatchLimit <= 0 {
		d.BatchLimit = 50
	}
	if d.Interval <= 0 {
		d.Interval = 5 * time.Second
	}
	if d.BaseDelay <= 0 {
		d.BaseDelay = 30 * time.Second
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	d.client = &http.Client{Timeout: d.Timeout}

	tick := time.NewTicker(d.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			n, err := d.Drain(ctx)
			if err != nil {
				d.Log.Error("drain failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.Log.Debug("drained outbound events", zap.Int("count", n))
			}
		}
	}
}

// Drain claims one batch of due events and delivers it. Returns how many
// events were claimed. An empty claim is a no-op.
func (d *Deliverer) Drain(ctx context.Context) (int, error) {
	claimed, err := d.Outbound.ClaimDue(ctx, d.now(), d.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("claim due events: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	// group per tenant, creation order preserved within each group
	groups := make(map[string][]model.OutboundEvent)
	order := make([]string, 0, len(claimed))
	for _, ev := range claimed {
		if _, seen := groups[ev.TenantID]; !seen {
			order = append(order, ev.TenantID)
		}
		groups[ev.TenantID] = append(groups[ev.TenantID], ev)
	}

	var wg sync.WaitGroup
	for _, tenantID := range order {
		wg.Add(1)
		go func(evs []model.OutboundEvent) {
			defer wg.Done()
			d.deliverGroup(ctx, evs)
		}(groups[tenantID])
	}
	wg.Wait()

	return len(claimed), nil
}

func (d *Deliverer) deliverGroup(ctx context.Context, evs []model.OutboundEvent) {
	for i, ev := range evs {
		if d.deliverOne(ctx, ev) {
			continue
		}
		// ordering: don't send later events for this tenant ahead of a
		// failed one; release them unburned for the next drain
		for _, rest := range evs[i+1:] {
			if err := d.Outbound.Release(ctx, rest.ID); err != nil {
				d.Log.Error("release event failed", zap.String("event_id", rest.ID), zap.Error(err))
			}
		}
		return
	}
}

// deliverOne attempts one POST and records the outcome. Reports whether
// delivery succeeded.
func (d *Deliverer) deliverOne(ctx context.Context, ev model.OutboundEvent) bool {
	start := d.now()
	status, err := d.send(ctx, ev)
	d.audit(ctx, ev, status, err, d.now().Sub(start))

	if err == nil {
		if merr := d.Outbound.MarkSent(ctx, ev.ID, d.now()); merr != nil {
			d.Log.Error("mark sent failed", zap.String("event_id", ev.ID), zap.Error(merr))
			return false
		}
		metrics.DeliveriesTotal.WithLabelValues("sent", ev.EventType).Inc()
		return true
	}

	ev.Attempts++
	nextRetry := d.now().Add(d.BaseDelay * (1 << ev.Attempts))
	if merr := d.Outbound.MarkFailed(ctx, ev.ID, ev.Attempts, err.Error(), nextRetry); merr != nil {
		d.Log.Error("mark failed failed", zap.String("event_id", ev.ID), zap.Error(merr))
		return false
	}

	if ev.Exhausted() {
		// permanently failed: excluded from claiming until an operator
		// re-arms the attempt counter
		metrics.DeliveriesTotal.WithLabelValues("exhausted", ev.EventType).Inc()
		d.Log.Warn("delivery attempts exhausted",
			zap.String("event_id", ev.ID),
			zap.String("tenant_id", ev.TenantID),
			zap.String("event", ev.EventType),
			zap.Int("attempts", ev.Attempts),
			zap.Error(err))
		return false
	}

	metrics.DeliveriesTotal.WithLabelValues("failed", ev.EventType).Inc()
	d.Log.Info("delivery attempt failed",
		zap.String("event_id", ev.ID),
		zap.Int("attempts", ev.Attempts),
		zap.Time("next_retry_at", nextRetry),
		zap.Error(err))
	return false
}

// send builds a fresh signed envelope and POSTs it. A timeout or non-2xx
// is an error; the caller turns it into a scheduled retry.
func (d *Deliverer) send(ctx context.Context, ev model.OutboundEvent) (int, error) {
	ts := d.now().Unix()
	body, err := json.Marshal(model.Envelope{
		Event:     ev.EventType,
		Timestamp: ts,
		Data:      ev.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign(d.Secret, body, ts))
	req.Header.Set("x-webhook-event", ev.EventType)

	res, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return res.StatusCode, fmt.Errorf("target=%s status=%d", ev.TargetURL, res.StatusCode)
	}

	return res.StatusCode, nil
}

// audit appends the attempt to ClickHouse, best-effort.
func (d *Deliverer) audit(ctx context.Context, ev model.OutboundEvent, status int, sendErr error, dur time.Duration) {
	if d.Attempts == nil {
		return
	}
	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	a := model.DeliveryAttempt{
		EventID:    ev.ID,
		TenantID:   ev.TenantID,
		EventType:  ev.EventType,
		Attempt:    ev.Attempts + 1,
		StatusCode: status,
		Error:      errMsg,
		DurationMs: dur.Milliseconds(),
		CreatedAt:  d.now(),
	}
	if err := d.Attempts.Insert(ctx, a); err != nil {
		d.Log.Warn("audit insert failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}
