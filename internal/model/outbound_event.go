package model

import (
	"database/sql"
	"time"
)

type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventSending EventStatus = "sending"
	EventSent    EventStatus = "sent"
	EventFailed  EventStatus = "failed"
)

func (s EventStatus) String() string {
	return string(s)
}

// OutboundEvent is a durable webhook delivery row. Rows are created once
// per state-changing tenant operation and mutated only by the deliverer;
// they are never deleted (audit trail). An event with
// attempts >= max_attempts stays failed until an operator re-arms it.
type OutboundEvent struct {
	ID          string         `db:"id"`
	TenantID    string         `db:"tenant_id"`
	TargetURL   string         `db:"target_url"`
	EventType   string         `db:"event_type"`
	Payload     []byte         `db:"payload"`
	Status      EventStatus    `db:"status"`
	Attempts    int            `db:"attempts"`
	MaxAttempts int            `db:"max_attempts"`
	LastError   sql.NullString `db:"last_error"`
	NextRetryAt time.Time      `db:"next_retry_at"`
	SentAt      *time.Time     `db:"sent_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Exhausted reports whether the event has burned all delivery attempts.
func (e OutboundEvent) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// DeliveryAttempt is one row of the append-only ClickHouse audit log
// written by the deliverer, one per HTTP attempt.
type DeliveryAttempt struct {
	EventID    string    `db:"event_id" json:"event_id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	Attempt    int       `db:"attempt" json:"attempt"`
	StatusCode int       `db:"status_code" json:"status_code"` // 0 when the request never completed
	Error      string    `db:"error" json:"error,omitempty"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
