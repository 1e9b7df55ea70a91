// Package api exposes HTTP handlers for the presence tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BloodRedTape/UtcTracker/internal/auth"
	"github.com/BloodRedTape/UtcTracker/internal/domain"
	"github.com/BloodRedTape/UtcTracker/internal/persistence"
	"github.com/BloodRedTape/UtcTracker/internal/statuscache"
)

// LiveStatusStore reads cached presence snapshots. Implemented by the
// redis-backed statuscache package; a nil store falls back to the database.
type LiveStatusStore interface {
	GetStatus(ctx context.Context, identityID string) (*statuscache.Snapshot, error)
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	live    LiveStatusStore
}

// NewHandler builds a Handler. live may be nil.
func NewHandler(service *domain.Service, live LiveStatusStore) *Handler {
	return &Handler{service: service, live: live}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/identities", h.identities)
	mux.HandleFunc("/v1/identities/", h.identityResource)
	mux.HandleFunc("/v1/events", h.postEvent)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) identities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireReadScope(w, r) {
		return
	}

	identities, err := h.service.ListIdentities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]IdentityView, 0, len(identities))
	for _, identity := range identities {
		items = append(items, toIdentityView(identity))
	}
	writeJSON(w, http.StatusOK, ListIdentitiesResponse{Items: items})
}

// identityResource routes /v1/identities/{id} and its sub-resources.
func (h *Handler) identityResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/identities/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing identity id")
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireReadScope(w, r) {
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		h.getIdentity(w, r, id)
	case "events":
		h.listEvents(w, r, id)
	case "activity-periods":
		h.activityPeriods(w, r, id)
	case "sleep-periods":
		h.sleepPeriods(w, r, id)
	case "timezones":
		h.timezones(w, r, id)
	case "stats":
		h.stats(w, r, id)
	case "live":
		h.liveStatus(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) getIdentity(w http.ResponseWriter, r *http.Request, id string) {
	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityView(*identity))
}

func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePresenceWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope presence:write required")
		return
	}

	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	result, err := h.service.RecordEvent(r.Context(), domain.RecordEventInput{
		IdentityID: req.IdentityID,
		Source:     domain.Source(req.Source),
		ExternalID: req.ExternalID,
		Status:     domain.Status(req.Status),
		RawStatus:  req.RawStatus,
		Timestamp:  ts,
		Label:      req.Label,
		Username:   req.Username,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusAccepted
	if !result.Stored {
		status = http.StatusOK
	}
	writeJSON(w, status, RecordEventResponse{
		IdentityID: result.IdentityID,
		EventID:    result.EventID,
		Stored:     result.Stored,
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request, id string) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 1000 {
				parsed = 1000
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	filter, err := parseTimeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	events, next, err := h.service.ListEvents(r.Context(), id, filter, cursor, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]EventView, 0, len(events))
	for _, e := range events {
		items = append(items, toEventView(e))
	}
	writeJSON(w, http.StatusOK, ListEventsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) activityPeriods(w http.ResponseWriter, r *http.Request, id string) {
	source := domain.SourceMerged
	if raw := r.URL.Query().Get("source"); raw != "" {
		source = domain.Source(raw)
		if source != domain.SourceMerged && !domain.KnownSource(source) {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("unknown source %q", raw))
			return
		}
	}

	periods, err := h.service.ActivityPeriods(r.Context(), id, source)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]ActivityPeriodView, 0, len(periods))
	for _, p := range periods {
		items = append(items, toActivityPeriodView(p))
	}
	writeJSON(w, http.StatusOK, ActivityPeriodsResponse{Source: string(source), Items: items})
}

func (h *Handler) sleepPeriods(w http.ResponseWriter, r *http.Request, id string) {
	fromDate, toDate, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	descending := r.URL.Query().Get("order") == "desc"

	periods, err := h.service.SleepPeriods(r.Context(), id, fromDate, toDate, descending)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]SleepPeriodView, 0, len(periods))
	for _, p := range periods {
		items = append(items, toSleepPeriodView(p))
	}
	writeJSON(w, http.StatusOK, SleepPeriodsResponse{Items: items})
}

func (h *Handler) timezones(w http.ResponseWriter, r *http.Request, id string) {
	fromDate, toDate, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	days, err := h.service.DailyTimezones(r.Context(), id, fromDate, toDate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]DailyTimezoneView, 0, len(days))
	for _, d := range days {
		items = append(items, toDailyTimezoneView(d))
	}
	writeJSON(w, http.StatusOK, TimezoneHistoryResponse{Items: items})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, id string) {
	windowHours := 24
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			windowHours = parsed
		}
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	count, err := h.service.CountEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	last, err := h.service.LastEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	sleeps, err := h.service.SleepPeriods(r.Context(), id, "", "", false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	periods, err := h.service.ActivityPeriods(r.Context(), id, domain.SourceMerged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(windowHours) * time.Hour)

	resp := StatsResponse{
		Identity:    toIdentityView(*identity),
		EventCount:  count,
		SleepCount:  len(sleeps),
		WindowHours: windowHours,
		OnlineSecs:  onlineSeconds(periods, windowStart, now),
		AvgSleepHrs: averageGapHours(sleeps),
		Wakeups:     make([]WakeupPoint, 0, len(sleeps)),
	}
	if last != nil {
		ts := last.Timestamp
		resp.LastEventAt = &ts
	}
	for _, sp := range sleeps {
		resp.Wakeups = append(resp.Wakeups, WakeupPoint{
			Date:        sp.Date,
			WakeupUTC:   sp.OnlineAt,
			OffsetHours: sp.EstimatedTZOffset,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) liveStatus(w http.ResponseWriter, r *http.Request, id string) {
	if h.live != nil {
		snapshot, err := h.live.GetStatus(r.Context(), id)
		if err == nil && snapshot != nil {
			writeJSON(w, http.StatusOK, LiveStatusResponse{
				IdentityID:     snapshot.IdentityID,
				CurrentStatus:  string(snapshot.CurrentStatus),
				TelegramStatus: string(snapshot.TelegramStatus),
				DiscordStatus:  string(snapshot.DiscordStatus),
				TZOffsetHours:  snapshot.TZOffsetHours,
				UpdatedAt:      &snapshot.UpdatedAt,
				Cached:         true,
			})
			return
		}
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LiveStatusResponse{
		IdentityID:     identity.ID,
		CurrentStatus:  string(identity.CurrentStatus),
		TelegramStatus: string(identity.TelegramStatus),
		DiscordStatus:  string(identity.DiscordStatus),
		TZOffsetHours:  identity.CurrentTZOffset,
	})
}

// onlineSeconds sums merged activity inside [from, to], clamping windows to
// the range and treating an ongoing window as extending to now.
func onlineSeconds(periods []domain.ActivityPeriod, from, to time.Time) float64 {
	var total time.Duration
	for _, p := range periods {
		start := p.Start
		end := p.End
		if p.Ongoing {
			end = to
		}
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if end.After(start) {
			total += end.Sub(start)
		}
	}
	return math.Round(total.Seconds())
}

func averageGapHours(periods []domain.SleepPeriod) float64 {
	if len(periods) == 0 {
		return 0
	}
	var sum float64
	for _, p := range periods {
		sum += p.GapHours
	}
	return math.Round(sum/float64(len(periods))*100) / 100
}

func requireReadScope(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(auth.ScopePresenceRead) && !claims.HasScope(auth.ScopePresenceWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope presence:read required")
		return false
	}
	return true
}

func parseTimeFilter(r *http.Request) (domain.EventFilter, error) {
	var filter domain.EventFilter
	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp %q", raw)
		}
		filter.From = &ts
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp %q", raw)
		}
		filter.To = &ts
	}
	return filter, nil
}

func parseDateRange(r *http.Request) (string, string, error) {
	fromDate := r.URL.Query().Get("from")
	toDate := r.URL.Query().Get("to")
	for _, raw := range []string{fromDate, toDate} {
		if raw == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return "", "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
		}
	}
	return fromDate, toDate, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownIdentity):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrRecomputeFailed):
		writeError(w, http.StatusInternalServerError, "recompute_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
