// Package events defines the integration event payloads published through
// the outbox.
package events

import "time"

// Topics the dispatcher delivers to.
const (
	TopicStatusChanged   = "presence.status_changed"
	TopicTimezoneUpdated = "presence.timezone_updated"
)

// Event type discriminators carried in Kafka headers.
const (
	TypeStatusChanged   = "presence.status_changed"
	TypeTimezoneUpdated = "presence.timezone_updated"
)

// StatusChanged is emitted when an accepted event flips an identity's
// combined online/offline state.
type StatusChanged struct {
	IdentityID string    `json:"identity_id"`
	Source     string    `json:"source"`
	Previous   string    `json:"previous_status"`
	Current    string    `json:"current_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TimezoneUpdated is emitted when a recompute changes the identity's
// current timezone offset estimate.
type TimezoneUpdated struct {
	IdentityID  string    `json:"identity_id"`
	OffsetHours float64   `json:"offset_hours"`
	OccurredAt  time.Time `json:"occurred_at"`
}
