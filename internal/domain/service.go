// Package domain implements the presence-event reconciliation and
// sleep/timezone inference engine.
package domain

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BloodRedTape/UtcTracker/internal/observability"
)

var (
	// ErrInvalidStatus rejects malformed status values; nothing is stored.
	ErrInvalidStatus = errors.New("invalid status value")
	// ErrUnknownIdentity is returned when an identity cannot be located and
	// auto-creation is disabled.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrRecomputeFailed wraps a derived-record write rejected by the store.
	// The triggering event remains stored; derived records are stale until
	// the next successful recompute.
	ErrRecomputeFailed = errors.New("sleep recompute failed")
)

// Cursor models the pagination token for event listings.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// EventFilter restricts an event listing to a time range.
type EventFilter struct {
	From *time.Time
	To   *time.Time
}

// AppendResult reports what the store did with a recorded event.
type AppendResult struct {
	Stored    bool
	EventID   int64
	Deduped   bool
	Reordered bool // timestamp earlier than the last stored event for the source
	Previous  Status
	Current   Status
}

// Repository captures the persistence operations the engine needs. All
// calls are atomic request/response with no partial-success state.
type Repository interface {
	GetIdentity(ctx context.Context, identityID string) (*Identity, error)
	FindIdentityBySourceID(ctx context.Context, source Source, externalID string) (*Identity, error)
	CreateIdentity(ctx context.Context, identity Identity) error
	ListIdentities(ctx context.Context) ([]Identity, error)

	AppendEvent(ctx context.Context, event StatusEvent) (AppendResult, error)
	EventsFor(ctx context.Context, identityID string, source *Source) ([]StatusEvent, error)
	ListEvents(ctx context.Context, identityID string, filter EventFilter, cursor *Cursor, limit int) ([]StatusEvent, *Cursor, error)
	LastEvent(ctx context.Context, identityID string) (*StatusEvent, error)
	CountEvents(ctx context.Context, identityID string) (int64, error)

	ReplaceSleepPeriods(ctx context.Context, identityID string, periods []SleepPeriod) error
	ReplaceDailyTimezones(ctx context.Context, identityID string, days []DailyTimezone) error
	UpdateIdentityTZ(ctx context.Context, identityID string, offset float64) error
	SleepPeriods(ctx context.Context, identityID, fromDate, toDate string, descending bool) ([]SleepPeriod, error)
	DailyTimezones(ctx context.Context, identityID, fromDate, toDate string) ([]DailyTimezone, error)
}

const lockShards = 64

// Service orchestrates the append-event -> recompute-derived-records
// pipeline. Recomputation for one identity runs inside an exclusive
// critical section; different identities proceed in parallel.
type Service struct {
	repo       Repository
	opts       DetectorOptions
	autoCreate bool
	locks      [lockShards]sync.Mutex
}

// NewService constructs a Service.
func NewService(repo Repository, opts DetectorOptions, autoCreate bool) *Service {
	return &Service{repo: repo, opts: opts, autoCreate: autoCreate}
}

// RecordEventInput captures one raw status notification from a listener.
type RecordEventInput struct {
	// IdentityID addresses the identity directly; when empty, the identity
	// is resolved through (Source, ExternalID).
	IdentityID string
	Source     Source
	ExternalID string
	Status     Status
	RawStatus  string
	Timestamp  time.Time
	Label      string
	Username   *string
}

// RecordEventResult reports the outcome of an ingestion call.
type RecordEventResult struct {
	IdentityID string
	EventID    int64
	Stored     bool
}

// RecordEvent validates and stores a status notification, then re-derives
// the identity's sleep periods and daily timezones from its full history.
// A recompute failure does not undo the stored event: the returned error
// wraps ErrRecomputeFailed and the caller should log and continue, since
// the next accepted event heals the stale derived records.
func (s *Service) RecordEvent(ctx context.Context, input RecordEventInput) (RecordEventResult, error) {
	if !ValidStatus(input.Status) {
		return RecordEventResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, input.Status)
	}
	if !KnownSource(input.Source) {
		return RecordEventResult{}, fmt.Errorf("%w: unrecognised source %q", ErrInvalidStatus, input.Source)
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	identity, err := s.resolveIdentity(ctx, input)
	if err != nil {
		return RecordEventResult{}, err
	}

	lock := s.lockFor(identity.ID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.repo.AppendEvent(ctx, StatusEvent{
		IdentityID: identity.ID,
		Source:     input.Source,
		Status:     input.Status,
		RawStatus:  input.RawStatus,
		Timestamp:  ts,
	})
	if err != nil {
		return RecordEventResult{}, err
	}

	if res.Reordered {
		log.Printf("potential reorder: identity=%s source=%s ts=%s arrived after a later event",
			identity.ID, input.Source, ts.Format(time.RFC3339))
	}

	out := RecordEventResult{IdentityID: identity.ID, EventID: res.EventID, Stored: res.Stored}
	if !res.Stored {
		return out, nil
	}

	if err := s.recompute(ctx, identity.ID); err != nil {
		observability.RecordRecomputeFailure()
		return out, fmt.Errorf("%w: %v", ErrRecomputeFailed, err)
	}
	return out, nil
}

// Recompute re-derives sleep periods and daily timezones for one identity
// under its critical section. Useful after backfills.
func (s *Service) Recompute(ctx context.Context, identityID string) error {
	lock := s.lockFor(identityID)
	lock.Lock()
	defer lock.Unlock()
	return s.recompute(ctx, identityID)
}

func (s *Service) recompute(ctx context.Context, identityID string) error {
	start := time.Now()
	defer func() {
		observability.ObserveRecomputeDuration(time.Since(start))
	}()

	events, err := s.repo.EventsFor(ctx, identityID, nil)
	if err != nil {
		return err
	}

	periods := DetectSleepPeriods(events, s.opts)
	daily := ComputeDailyTimezones(periods)

	if err := s.repo.ReplaceSleepPeriods(ctx, identityID, periods); err != nil {
		return err
	}
	if err := s.repo.ReplaceDailyTimezones(ctx, identityID, daily); err != nil {
		return err
	}
	if len(daily) > 0 {
		return s.repo.UpdateIdentityTZ(ctx, identityID, daily[len(daily)-1].OffsetHours)
	}
	return nil
}

func (s *Service) resolveIdentity(ctx context.Context, input RecordEventInput) (*Identity, error) {
	if input.IdentityID != "" {
		identity, err := s.repo.GetIdentity(ctx, input.IdentityID)
		if err != nil {
			return nil, err
		}
		if identity == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, input.IdentityID)
		}
		return identity, nil
	}

	identity, err := s.repo.FindIdentityBySourceID(ctx, input.Source, input.ExternalID)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		return identity, nil
	}

	if !s.autoCreate {
		return nil, fmt.Errorf("%w: %s id %s", ErrUnknownIdentity, input.Source, input.ExternalID)
	}

	label := input.Label
	if label == "" {
		label = input.ExternalID
	}
	created := Identity{
		ID:             uuid.NewString(),
		Label:          label,
		Username:       input.Username,
		TelegramStatus: StatusOffline,
		DiscordStatus:  StatusOffline,
		CurrentStatus:  StatusOffline,
		CreatedAt:      time.Now().UTC(),
	}
	externalID := input.ExternalID
	switch input.Source {
	case SourceTelegram:
		created.TelegramID = &externalID
	case SourceDiscord:
		created.DiscordID = &externalID
	}

	if err := s.repo.CreateIdentity(ctx, created); err != nil {
		return nil, err
	}
	log.Printf("identity auto-created: id=%s source=%s external_id=%s", created.ID, input.Source, externalID)
	return &created, nil
}

// GetIdentity fetches an identity, failing with ErrUnknownIdentity when absent.
func (s *Service) GetIdentity(ctx context.Context, identityID string) (*Identity, error) {
	identity, err := s.repo.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
	}
	return identity, nil
}

// ListIdentities returns all tracked identities.
func (s *Service) ListIdentities(ctx context.Context) ([]Identity, error) {
	return s.repo.ListIdentities(ctx)
}

// ListEvents pages through an identity's stored history in ascending
// timestamp order.
func (s *Service) ListEvents(ctx context.Context, identityID string, filter EventFilter, cursor *Cursor, limit int) ([]StatusEvent, *Cursor, error) {
	if _, err := s.GetIdentity(ctx, identityID); err != nil {
		return nil, nil, err
	}
	return s.repo.ListEvents(ctx, identityID, filter, cursor, limit)
}

// LastEvent returns the most recently stored event across sources.
func (s *Service) LastEvent(ctx context.Context, identityID string) (*StatusEvent, error) {
	return s.repo.LastEvent(ctx, identityID)
}

// CountEvents returns the identity's stored event count.
func (s *Service) CountEvents(ctx context.Context, identityID string) (int64, error) {
	return s.repo.CountEvents(ctx, identityID)
}

// ActivityPeriods recomputes activity windows on demand, either for one
// source's subsequence or, with SourceMerged, for the combined
// cross-source transition stream.
func (s *Service) ActivityPeriods(ctx context.Context, identityID string, source Source) ([]ActivityPeriod, error) {
	if _, err := s.GetIdentity(ctx, identityID); err != nil {
		return nil, err
	}

	if source == SourceMerged {
		events, err := s.repo.EventsFor(ctx, identityID, nil)
		if err != nil {
			return nil, err
		}
		return BuildActivityPeriods(CombinedTransitions(events), SourceMerged), nil
	}

	if !KnownSource(source) {
		return nil, fmt.Errorf("%w: unrecognised source %q", ErrInvalidStatus, source)
	}
	events, err := s.repo.EventsFor(ctx, identityID, &source)
	if err != nil {
		return nil, err
	}
	return BuildActivityPeriods(events, source), nil
}

// SleepPeriods returns stored sleep periods, optionally bounded by wake date.
func (s *Service) SleepPeriods(ctx context.Context, identityID, fromDate, toDate string, descending bool) ([]SleepPeriod, error) {
	if _, err := s.GetIdentity(ctx, identityID); err != nil {
		return nil, err
	}
	return s.repo.SleepPeriods(ctx, identityID, fromDate, toDate, descending)
}

// DailyTimezones returns the per-day offset history.
func (s *Service) DailyTimezones(ctx context.Context, identityID, fromDate, toDate string) ([]DailyTimezone, error) {
	if _, err := s.GetIdentity(ctx, identityID); err != nil {
		return nil, err
	}
	return s.repo.DailyTimezones(ctx, identityID, fromDate, toDate)
}

// EventsFor returns the identity's full history, ascending by timestamp,
// optionally restricted to one source.
func (s *Service) EventsFor(ctx context.Context, identityID string, source *Source) ([]StatusEvent, error) {
	return s.repo.EventsFor(ctx, identityID, source)
}

func (s *Service) lockFor(identityID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return &s.locks[h.Sum32()%lockShards]
}
