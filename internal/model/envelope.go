package model

import (
	"encoding/json"
	"strings"
)

// Event types carried on the webhook channel. Subscription events from
// the billing side are aliases for disable/enable.
type EventType string

const (
	EventTenantCreated  EventType = "tenant.created"
	EventTenantDisabled EventType = "tenant.disabled"
	EventTenantEnabled  EventType = "tenant.enabled"
	EventTenantDeleted  EventType = "tenant.deleted"
	EventSubCancelled   EventType = "tenant.subscription.cancelled"
	EventSubUpdated     EventType = "tenant.subscription.updated"
)

func (t EventType) String() string { return string(t) }

// ParseEventType maps a wire event name to a known type, folding
// subscription aliases onto the lifecycle events they stand for.
// Unknown names return ("", false); receivers acknowledge and ignore
// them so new event types can roll out sender-first.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(strings.TrimSpace(s)) {
	case EventTenantCreated:
		return EventTenantCreated, true
	case EventTenantDisabled, EventSubCancelled:
		return EventTenantDisabled, true
	case EventTenantEnabled, EventSubUpdated:
		return EventTenantEnabled, true
	case EventTenantDeleted:
		return EventTenantDeleted, true
	default:
		return "", false
	}
}

// Transition is the state edge a lifecycle event is emitted on. A
// deleted event can fire from any live state; it reports from="" and
// callers substitute the tenant's current status.
func (t EventType) Transition() (from, to TenantStatus, ok bool) {
	switch t {
	case EventTenantCreated:
		return StatusPending, StatusActive, true
	case EventTenantDisabled:
		return StatusActive, StatusDisabled, true
	case EventTenantEnabled:
		return StatusDisabled, StatusActive, true
	case EventTenantDeleted:
		return "", StatusDeleted, true
	default:
		return "", "", false
	}
}

// Envelope is the JSON body POSTed over the webhook channel. It is
// rebuilt (and re-signed) fresh on every delivery attempt.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventData is the payload persisted on an outbound event and carried in
// Envelope.Data for lifecycle notifications.
type EventData struct {
	TenantID   string `json:"tenant_id"`
	ExternalID string `json:"external_id,omitempty"`
	Subdomain  string `json:"subdomain"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}
