package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BloodRedTape/UtcTracker/internal/auth"
	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

type mockRepo struct {
	identity *domain.Identity
	events   []domain.StatusEvent
	sleeps   []domain.SleepPeriod
	daily    []domain.DailyTimezone

	appended []domain.StatusEvent
}

func (m *mockRepo) GetIdentity(_ context.Context, id string) (*domain.Identity, error) {
	if m.identity != nil && m.identity.ID == id {
		return m.identity, nil
	}
	return nil, nil
}

func (m *mockRepo) FindIdentityBySourceID(_ context.Context, source domain.Source, externalID string) (*domain.Identity, error) {
	if m.identity != nil {
		if linked := m.identity.SourceID(source); linked != nil && *linked == externalID {
			return m.identity, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) CreateIdentity(_ context.Context, identity domain.Identity) error {
	m.identity = &identity
	return nil
}

func (m *mockRepo) ListIdentities(_ context.Context) ([]domain.Identity, error) {
	if m.identity == nil {
		return nil, nil
	}
	return []domain.Identity{*m.identity}, nil
}

func (m *mockRepo) AppendEvent(_ context.Context, event domain.StatusEvent) (domain.AppendResult, error) {
	m.appended = append(m.appended, event)
	m.events = append(m.events, event)
	return domain.AppendResult{Stored: true, EventID: int64(len(m.appended))}, nil
}

func (m *mockRepo) EventsFor(_ context.Context, _ string, source *domain.Source) ([]domain.StatusEvent, error) {
	if source == nil {
		return m.events, nil
	}
	var out []domain.StatusEvent
	for _, e := range m.events {
		if e.Source == *source {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) ListEvents(_ context.Context, _ string, _ domain.EventFilter, _ *domain.Cursor, limit int) ([]domain.StatusEvent, *domain.Cursor, error) {
	events := m.events
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil, nil
}

func (m *mockRepo) LastEvent(_ context.Context, _ string) (*domain.StatusEvent, error) {
	if len(m.events) == 0 {
		return nil, nil
	}
	last := m.events[len(m.events)-1]
	return &last, nil
}

func (m *mockRepo) CountEvents(_ context.Context, _ string) (int64, error) {
	return int64(len(m.events)), nil
}

func (m *mockRepo) ReplaceSleepPeriods(_ context.Context, _ string, periods []domain.SleepPeriod) error {
	m.sleeps = periods
	return nil
}

func (m *mockRepo) ReplaceDailyTimezones(_ context.Context, _ string, days []domain.DailyTimezone) error {
	m.daily = days
	return nil
}

func (m *mockRepo) UpdateIdentityTZ(_ context.Context, _ string, offset float64) error {
	if m.identity != nil {
		m.identity.CurrentTZOffset = &offset
	}
	return nil
}

func (m *mockRepo) SleepPeriods(_ context.Context, _ string, _, _ string, _ bool) ([]domain.SleepPeriod, error) {
	return m.sleeps, nil
}

func (m *mockRepo) DailyTimezones(_ context.Context, _, _, _ string) ([]domain.DailyTimezone, error) {
	return m.daily, nil
}

func newTestHandler(repo *mockRepo) http.Handler {
	service := domain.NewService(repo, domain.DefaultDetectorOptions(), false)
	handler := NewHandler(service, nil)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func authedRequest(method, target string, body string, scopes ...string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "tester",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func seedRepo() *mockRepo {
	tgID := "tg-1"
	offset := 3.0
	return &mockRepo{
		identity: &domain.Identity{
			ID:              "id-1",
			Label:           "alice",
			TelegramID:      &tgID,
			TelegramStatus:  domain.StatusOnline,
			DiscordStatus:   domain.StatusOffline,
			CurrentStatus:   domain.StatusOnline,
			CurrentTZOffset: &offset,
			CreatedAt:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestGetIdentity(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp IdentityView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.IdentityID != "id-1" {
		t.Fatalf("unexpected identity id %s", resp.IdentityID)
	}
	if resp.CurrentTZ != "UTC+3" {
		t.Fatalf("unexpected current_tz %q", resp.CurrentTZ)
	}
	if resp.CurrentStatus != "online" {
		t.Fatalf("unexpected current_status %q", resp.CurrentStatus)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/missing", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestGetIdentityRequiresScope(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1", ""))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestPostEventStores(t *testing.T) {
	repo := seedRepo()
	handler := newTestHandler(repo)

	body := `{"identity_id":"id-1","source":"telegram","status":"offline","timestamp":"2024-03-10T22:00:00Z"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/events", body, auth.ScopePresenceWrite))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp RecordEventResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Stored {
		t.Fatalf("expected stored event")
	}
	if len(repo.appended) != 1 {
		t.Fatalf("expected one appended event, got %d", len(repo.appended))
	}
	if repo.appended[0].Status != domain.StatusOffline {
		t.Fatalf("unexpected status %s", repo.appended[0].Status)
	}
}

func TestPostEventRequiresWriteScope(t *testing.T) {
	handler := newTestHandler(seedRepo())

	body := `{"identity_id":"id-1","source":"telegram","status":"offline"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/events", body, auth.ScopePresenceRead))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestPostEventInvalidStatus(t *testing.T) {
	handler := newTestHandler(seedRepo())

	body := `{"identity_id":"id-1","source":"telegram","status":"away"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/events", body, auth.ScopePresenceWrite))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSleepPeriodsEndpoint(t *testing.T) {
	repo := seedRepo()
	repo.sleeps = []domain.SleepPeriod{
		{
			IdentityID:        "id-1",
			Date:              "2024-03-10",
			OfflineAt:         time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC),
			OnlineAt:          time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC),
			GapHours:          8.5,
			EstimatedTZOffset: -1.5,
		},
	}
	handler := newTestHandler(repo)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/sleep-periods", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp SleepPeriodsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one sleep period, got %d", len(resp.Items))
	}
	if resp.Items[0].EstimatedTZ != "UTC-1:30" {
		t.Fatalf("unexpected estimated_tz %q", resp.Items[0].EstimatedTZ)
	}
}

func TestSleepPeriodsRejectsBadDate(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/sleep-periods?from=10-03-2024", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestActivityPeriodsMerged(t *testing.T) {
	repo := seedRepo()
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	repo.events = []domain.StatusEvent{
		{IdentityID: "id-1", Source: domain.SourceTelegram, Status: domain.StatusOnline, Timestamp: base},
		{IdentityID: "id-1", Source: domain.SourceDiscord, Status: domain.StatusOnline, Timestamp: base.Add(time.Hour)},
		{IdentityID: "id-1", Source: domain.SourceTelegram, Status: domain.StatusOffline, Timestamp: base.Add(2 * time.Hour)},
		{IdentityID: "id-1", Source: domain.SourceDiscord, Status: domain.StatusOffline, Timestamp: base.Add(3 * time.Hour)},
	}
	handler := newTestHandler(repo)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/activity-periods", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ActivityPeriodsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "merged" {
		t.Fatalf("unexpected source %q", resp.Source)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one merged window, got %d", len(resp.Items))
	}
	if resp.Items[0].End == nil || !resp.Items[0].End.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("unexpected window end %v", resp.Items[0].End)
	}
}

func TestActivityPeriodsUnknownSource(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/activity-periods?source=matrix", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestTimezoneHistory(t *testing.T) {
	repo := seedRepo()
	repo.daily = []domain.DailyTimezone{
		{IdentityID: "id-1", Date: "2024-03-10", OffsetHours: 5.5, WakeupUTC: time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC)},
	}
	handler := newTestHandler(repo)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/timezones", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TimezoneHistoryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one entry, got %d", len(resp.Items))
	}
	if resp.Items[0].Timezone != "UTC+5:30" {
		t.Fatalf("unexpected timezone label %q", resp.Items[0].Timezone)
	}
}

func TestLiveStatusFallsBackToDatabase(t *testing.T) {
	handler := newTestHandler(seedRepo())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/identities/id-1/live", "", auth.ScopePresenceRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp LiveStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cached {
		t.Fatalf("expected uncached response")
	}
	if resp.CurrentStatus != "online" {
		t.Fatalf("unexpected status %q", resp.CurrentStatus)
	}
}

func TestFormatOffset(t *testing.T) {
	cases := map[float64]string{
		0:    "UTC+0",
		3:    "UTC+3",
		5.5:  "UTC+5:30",
		-0.5: "UTC-0:30",
		-9:   "UTC-9",
		12.5: "UTC+12:30",
	}
	for offset, want := range cases {
		if got := FormatOffset(offset); got != want {
			t.Fatalf("FormatOffset(%v) = %q, want %q", offset, got, want)
		}
	}
}
