package domain

import "time"

// Identity is one tracked person, optionally observed through multiple sources.
type Identity struct {
	ID              string
	Label           string
	Username        *string
	TelegramID      *string
	DiscordID       *string
	TelegramStatus  Status
	DiscordStatus   Status
	CurrentStatus   Status
	CurrentTZOffset *float64
	CreatedAt       time.Time
}

// SourceID returns the external id linked for the given source, if any.
func (i *Identity) SourceID(source Source) *string {
	switch source {
	case SourceTelegram:
		return i.TelegramID
	case SourceDiscord:
		return i.DiscordID
	}
	return nil
}

// CombinedStatus computes the derived current status: online iff at least
// one linked source's last-known status is online. The stored current_status
// column is a recomputable projection of this, never authoritative state.
func CombinedStatus(perSource ...Status) Status {
	for _, s := range perSource {
		if s == StatusOnline {
			return StatusOnline
		}
	}
	return StatusOffline
}
