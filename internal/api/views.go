package api

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

// RecordEventRequest is the payload for POST /v1/events. The identity is
// addressed either directly by identity_id or through (source, external_id).
type RecordEventRequest struct {
	IdentityID string     `json:"identity_id,omitempty"`
	Source     string     `json:"source"`
	ExternalID string     `json:"external_id,omitempty"`
	Status     string     `json:"status"`
	RawStatus  string     `json:"raw_status,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Label      string     `json:"label,omitempty"`
	Username   *string    `json:"username,omitempty"`
}

// Validate ensures request correctness.
func (r RecordEventRequest) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("status is required")
	}
	if strings.TrimSpace(r.IdentityID) == "" && strings.TrimSpace(r.ExternalID) == "" {
		return errors.New("identity_id or external_id is required")
	}
	return nil
}

// RecordEventResponse describes the outcome of an ingestion call. Stored is
// false when the event deduplicated against the identity's stored history.
type RecordEventResponse struct {
	IdentityID string `json:"identity_id"`
	EventID    int64  `json:"event_id,omitempty"`
	Stored     bool   `json:"stored"`
}

// IdentityView exposes one tracked identity.
type IdentityView struct {
	IdentityID      string    `json:"identity_id"`
	Label           string    `json:"label"`
	Username        *string   `json:"username,omitempty"`
	TelegramID      *string   `json:"telegram_id,omitempty"`
	DiscordID       *string   `json:"discord_id,omitempty"`
	TelegramStatus  string    `json:"telegram_status"`
	DiscordStatus   string    `json:"discord_status"`
	CurrentStatus   string    `json:"current_status"`
	CurrentTZOffset *float64  `json:"current_tz_offset,omitempty"`
	CurrentTZ       string    `json:"current_tz,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListIdentitiesResponse packages the identity listing.
type ListIdentitiesResponse struct {
	Items []IdentityView `json:"items"`
}

// EventView exposes one stored status event.
type EventView struct {
	EventID   int64     `json:"event_id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	RawStatus string    `json:"raw_status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListEventsResponse packages paginated event history.
type ListEventsResponse struct {
	Items      []EventView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ActivityPeriodView exposes one derived online window. End is omitted for
// an ongoing window.
type ActivityPeriodView struct {
	Start   time.Time  `json:"start"`
	End     *time.Time `json:"end,omitempty"`
	Ongoing bool       `json:"ongoing"`
}

// ActivityPeriodsResponse packages derived activity windows.
type ActivityPeriodsResponse struct {
	Source string               `json:"source"`
	Items  []ActivityPeriodView `json:"items"`
}

// SleepPeriodView exposes one inferred sleep interval.
type SleepPeriodView struct {
	Date              string    `json:"date"`
	OfflineAt         time.Time `json:"offline_at"`
	OnlineAt          time.Time `json:"online_at"`
	GapHours          float64   `json:"gap_hours"`
	EstimatedTZOffset float64   `json:"estimated_tz_offset"`
	EstimatedTZ       string    `json:"estimated_tz"`
}

// SleepPeriodsResponse packages sleep history.
type SleepPeriodsResponse struct {
	Items []SleepPeriodView `json:"items"`
}

// DailyTimezoneView exposes the chosen offset for one calendar day.
type DailyTimezoneView struct {
	Date        string    `json:"date"`
	OffsetHours float64   `json:"offset_hours"`
	Timezone    string    `json:"timezone"`
	WakeupUTC   time.Time `json:"wakeup_utc"`
}

// TimezoneHistoryResponse packages the per-day offset history.
type TimezoneHistoryResponse struct {
	Items []DailyTimezoneView `json:"items"`
}

// WakeupPoint is one scatter point of wake time against date.
type WakeupPoint struct {
	Date        string    `json:"date"`
	WakeupUTC   time.Time `json:"wakeup_utc"`
	OffsetHours float64   `json:"offset_hours"`
}

// StatsResponse summarises one identity.
type StatsResponse struct {
	Identity    IdentityView  `json:"identity"`
	EventCount  int64         `json:"event_count"`
	LastEventAt *time.Time    `json:"last_event_at,omitempty"`
	SleepCount  int           `json:"sleep_count"`
	AvgSleepHrs float64       `json:"avg_sleep_hours"`
	WindowHours int           `json:"window_hours"`
	OnlineSecs  float64       `json:"online_seconds_in_window"`
	Wakeups     []WakeupPoint `json:"wakeups"`
}

// LiveStatusResponse reports the freshest known status for an identity.
type LiveStatusResponse struct {
	IdentityID     string     `json:"identity_id"`
	CurrentStatus  string     `json:"current_status"`
	TelegramStatus string     `json:"telegram_status"`
	DiscordStatus  string     `json:"discord_status"`
	TZOffsetHours  *float64   `json:"tz_offset_hours,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Cached         bool       `json:"cached"`
}

// FormatOffset renders an offset in hours as a display label, e.g. 3 ->
// "UTC+3", 5.5 -> "UTC+5:30", -0.5 -> "UTC-0:30".
func FormatOffset(offset float64) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
	}
	abs := math.Abs(offset)
	hours := int(abs)
	minutes := int(math.Round((abs - float64(hours)) * 60))
	if minutes == 0 {
		return fmt.Sprintf("UTC%s%d", sign, hours)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
}

func toIdentityView(identity domain.Identity) IdentityView {
	view := IdentityView{
		IdentityID:      identity.ID,
		Label:           identity.Label,
		Username:        identity.Username,
		TelegramID:      identity.TelegramID,
		DiscordID:       identity.DiscordID,
		TelegramStatus:  string(identity.TelegramStatus),
		DiscordStatus:   string(identity.DiscordStatus),
		CurrentStatus:   string(identity.CurrentStatus),
		CurrentTZOffset: identity.CurrentTZOffset,
		CreatedAt:       identity.CreatedAt,
	}
	if identity.CurrentTZOffset != nil {
		view.CurrentTZ = FormatOffset(*identity.CurrentTZOffset)
	}
	return view
}

func toEventView(e domain.StatusEvent) EventView {
	return EventView{
		EventID:   e.ID,
		Source:    string(e.Source),
		Status:    string(e.Status),
		RawStatus: e.RawStatus,
		Timestamp: e.Timestamp,
	}
}

func toActivityPeriodView(p domain.ActivityPeriod) ActivityPeriodView {
	view := ActivityPeriodView{Start: p.Start, Ongoing: p.Ongoing}
	if !p.Ongoing {
		end := p.End
		view.End = &end
	}
	return view
}

func toSleepPeriodView(p domain.SleepPeriod) SleepPeriodView {
	return SleepPeriodView{
		Date:              p.Date,
		OfflineAt:         p.OfflineAt,
		OnlineAt:          p.OnlineAt,
		GapHours:          p.GapHours,
		EstimatedTZOffset: p.EstimatedTZOffset,
		EstimatedTZ:       FormatOffset(p.EstimatedTZOffset),
	}
}

func toDailyTimezoneView(d domain.DailyTimezone) DailyTimezoneView {
	return DailyTimezoneView{
		Date:        d.Date,
		OffsetHours: d.OffsetHours,
		Timezone:    FormatOffset(d.OffsetHours),
		WakeupUTC:   d.WakeupUTC,
	}
}
