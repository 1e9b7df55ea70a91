package domain

import "time"

// Source identifies an independent presence-reporting channel.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceDiscord  Source = "discord"
	// SourceMerged marks events and activity periods derived from the
	// union of all sources rather than a single channel.
	SourceMerged Source = "merged"
)

// KnownSource reports whether s names a real presence channel.
func KnownSource(s Source) bool {
	return s == SourceTelegram || s == SourceDiscord
}

// Status is the two-valued presence state stored by the core. Richer
// source-native states (idle, do-not-disturb, ...) are collapsed to this
// domain at ingestion time, before an event reaches the engine.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is one of the recognised values.
func ValidStatus(s Status) bool {
	return s == StatusOnline || s == StatusOffline
}

// StatusEvent is a single observed online/offline transition.
type StatusEvent struct {
	ID         int64
	IdentityID string
	Source     Source
	Status     Status
	RawStatus  string
	Timestamp  time.Time
}
