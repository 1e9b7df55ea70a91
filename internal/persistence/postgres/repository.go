// Package postgres provides pgx-backed persistence for identities, events,
// and derived sleep records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
	"github.com/BloodRedTape/UtcTracker/internal/events"
	"github.com/BloodRedTape/UtcTracker/internal/observability"
)

// Repository implements domain.Repository on a pgx connection pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const identityColumns = `identity_id, label, username, telegram_id, discord_id,
        telegram_status, discord_status, current_status, current_tz_offset, created_at`

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var id domain.Identity
	err := row.Scan(&id.ID, &id.Label, &id.Username, &id.TelegramID, &id.DiscordID,
		&id.TelegramStatus, &id.DiscordStatus, &id.CurrentStatus, &id.CurrentTZOffset, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

// GetIdentity fetches one identity by internal id; nil when absent.
func (r *Repository) GetIdentity(ctx context.Context, identityID string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identity_id=$1`
	return scanIdentity(r.pool.QueryRow(ctx, query, identityID))
}

// FindIdentityBySourceID resolves an identity through a linked external id.
func (r *Repository) FindIdentityBySourceID(ctx context.Context, source domain.Source, externalID string) (*domain.Identity, error) {
	column, err := sourceIDColumn(source)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + column + `=$1`
	return scanIdentity(r.pool.QueryRow(ctx, query, externalID))
}

// CreateIdentity inserts a new identity row.
func (r *Repository) CreateIdentity(ctx context.Context, identity domain.Identity) error {
	const stmt = `INSERT INTO identities (identity_id, label, username, telegram_id, discord_id,
            telegram_status, discord_status, current_status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.pool.Exec(ctx, stmt,
		identity.ID, identity.Label, identity.Username, identity.TelegramID, identity.DiscordID,
		identity.TelegramStatus, identity.DiscordStatus, identity.CurrentStatus, identity.CreatedAt)
	return err
}

// ListIdentities returns all identities ordered by label.
func (r *Repository) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY label, identity_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var id domain.Identity
		if err := rows.Scan(&id.ID, &id.Label, &id.Username, &id.TelegramID, &id.DiscordID,
			&id.TelegramStatus, &id.DiscordStatus, &id.CurrentStatus, &id.CurrentTZOffset, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AppendEvent stores one status transition inside a single transaction:
// per-source dedup check, insert, per-source status column update, and
// combined-status recompute. A flip of the combined status also records a
// status_changed outbox row in the same transaction.
func (r *Repository) AppendEvent(ctx context.Context, event domain.StatusEvent) (domain.AppendResult, error) {
	var res domain.AppendResult

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	// Last two stored events for this (identity, source); dedup compares
	// against the most recent one.
	rows, err := tx.Query(ctx,
		`SELECT status, ts FROM events
         WHERE identity_id=$1 AND source=$2
         ORDER BY event_id DESC LIMIT 2`,
		event.IdentityID, event.Source)
	if err != nil {
		return res, err
	}
	type prior struct {
		status domain.Status
		ts     time.Time
	}
	var priors []prior
	for rows.Next() {
		var p prior
		if err := rows.Scan(&p.status, &p.ts); err != nil {
			rows.Close()
			return res, err
		}
		priors = append(priors, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	if len(priors) > 0 {
		if priors[0].status == event.Status {
			res.Deduped = true
			observability.RecordEventDeduplicated(string(event.Source))
			return res, tx.Commit(ctx)
		}
		if event.Timestamp.Before(priors[0].ts) {
			res.Reordered = true
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO events (identity_id, source, status, raw_status, ts)
         VALUES ($1,$2,$3,$4,$5) RETURNING event_id`,
		event.IdentityID, event.Source, event.Status, event.RawStatus, event.Timestamp,
	).Scan(&res.EventID)
	if err != nil {
		return res, err
	}
	res.Stored = true

	if err := tx.QueryRow(ctx,
		`SELECT current_status FROM identities WHERE identity_id=$1 FOR UPDATE`,
		event.IdentityID).Scan(&res.Previous); err != nil {
		return res, err
	}

	column, err := sourceStatusColumn(event.Source)
	if err != nil {
		return res, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE identities SET `+column+`=$1 WHERE identity_id=$2`,
		event.Status, event.IdentityID); err != nil {
		return res, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE identities SET current_status =
            CASE WHEN telegram_status='online' OR discord_status='online'
                 THEN 'online' ELSE 'offline' END
         WHERE identity_id=$1
         RETURNING current_status`,
		event.IdentityID,
	).Scan(&res.Current)
	if err != nil {
		return res, err
	}

	if res.Current != res.Previous {
		if err := insertOutbox(ctx, tx, outboxEntry{
			aggregateID:  event.IdentityID,
			eventType:    events.TypeStatusChanged,
			topic:        events.TopicStatusChanged,
			partitionKey: event.IdentityID,
			payload: events.StatusChanged{
				IdentityID: event.IdentityID,
				Source:     string(event.Source),
				Previous:   string(res.Previous),
				Current:    string(res.Current),
				OccurredAt: event.Timestamp,
			},
		}); err != nil {
			return res, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, err
	}
	observability.RecordEventPersisted(event.Timestamp)
	return res, nil
}

// EventsFor returns the identity's history ascending by timestamp,
// optionally restricted to one source. Ordering re-sorts by timestamp
// rather than trusting insertion order.
func (r *Repository) EventsFor(ctx context.Context, identityID string, source *domain.Source) ([]domain.StatusEvent, error) {
	query := `SELECT event_id, identity_id, source, status, raw_status, ts
        FROM events WHERE identity_id=$1`
	args := []interface{}{identityID}
	if source != nil {
		query += ` AND source=$2`
		args = append(args, *source)
	}
	query += ` ORDER BY ts, event_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEvents pages through history ascending by (ts, event_id).
func (r *Repository) ListEvents(ctx context.Context, identityID string, filter domain.EventFilter, cursor *domain.Cursor, limit int) ([]domain.StatusEvent, *domain.Cursor, error) {
	query := `SELECT event_id, identity_id, source, status, raw_status, ts
        FROM events WHERE identity_id=$1`
	args := []interface{}{identityID}

	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND ts <= $%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.Timestamp, cursor.ID)
		query += fmt.Sprintf(` AND (ts, event_id) > ($%d, $%d)`, len(args)-1, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY ts, event_id LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results, err := scanEvents(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	return results, next, nil
}

// LastEvent returns the most recently stored event across sources.
func (r *Repository) LastEvent(ctx context.Context, identityID string) (*domain.StatusEvent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT event_id, identity_id, source, status, raw_status, ts
         FROM events WHERE identity_id=$1 ORDER BY ts DESC, event_id DESC LIMIT 1`,
		identityID)

	var e domain.StatusEvent
	if err := row.Scan(&e.ID, &e.IdentityID, &e.Source, &e.Status, &e.RawStatus, &e.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// CountEvents returns the stored event count for one identity.
func (r *Repository) CountEvents(ctx context.Context, identityID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE identity_id=$1`, identityID).Scan(&count)
	return count, err
}

// ReplaceSleepPeriods swaps the identity's full sleep period set in one
// transaction: full replace semantics, never append.
func (r *Repository) ReplaceSleepPeriods(ctx context.Context, identityID string, periods []domain.SleepPeriod) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sleep_periods WHERE identity_id=$1`, identityID); err != nil {
		return err
	}
	for _, sp := range periods {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sleep_periods (identity_id, date, offline_at, online_at, gap_hours, estimated_tz_offset)
             VALUES ($1,$2,$3,$4,$5,$6)`,
			identityID, sp.Date, sp.OfflineAt, sp.OnlineAt, sp.GapHours, sp.EstimatedTZOffset); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReplaceDailyTimezones swaps the identity's daily timezone history.
func (r *Repository) ReplaceDailyTimezones(ctx context.Context, identityID string, days []domain.DailyTimezone) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM daily_timezones WHERE identity_id=$1`, identityID); err != nil {
		return err
	}
	for _, d := range days {
		if _, err := tx.Exec(ctx,
			`INSERT INTO daily_timezones (identity_id, date, offset_hours, wakeup_utc)
             VALUES ($1,$2,$3,$4)`,
			identityID, d.Date, d.OffsetHours, d.WakeupUTC); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateIdentityTZ stores the latest offset estimate and, when the value
// changed, records a timezone_updated outbox row in the same transaction.
func (r *Repository) UpdateIdentityTZ(ctx context.Context, identityID string, offset float64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var previous *float64
	if err := tx.QueryRow(ctx,
		`SELECT current_tz_offset FROM identities WHERE identity_id=$1 FOR UPDATE`,
		identityID).Scan(&previous); err != nil {
		return err
	}
	if previous != nil && *previous == offset {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE identities SET current_tz_offset=$1 WHERE identity_id=$2`,
		offset, identityID); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, outboxEntry{
		aggregateID:  identityID,
		eventType:    events.TypeTimezoneUpdated,
		topic:        events.TopicTimezoneUpdated,
		partitionKey: identityID,
		payload: events.TimezoneUpdated{
			IdentityID:  identityID,
			OffsetHours: offset,
			OccurredAt:  time.Now().UTC(),
		},
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SleepPeriods returns stored periods, optionally bounded by wake date.
func (r *Repository) SleepPeriods(ctx context.Context, identityID, fromDate, toDate string, descending bool) ([]domain.SleepPeriod, error) {
	query := `SELECT identity_id, date, offline_at, online_at, gap_hours, estimated_tz_offset
        FROM sleep_periods WHERE identity_id=$1`
	args := []interface{}{identityID}
	if fromDate != "" {
		args = append(args, fromDate)
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if toDate != "" {
		args = append(args, toDate)
		query += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	if descending {
		query += ` ORDER BY date DESC, online_at DESC`
	} else {
		query += ` ORDER BY date, online_at`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SleepPeriod
	for rows.Next() {
		var sp domain.SleepPeriod
		var date time.Time
		if err := rows.Scan(&sp.IdentityID, &date, &sp.OfflineAt, &sp.OnlineAt, &sp.GapHours, &sp.EstimatedTZOffset); err != nil {
			return nil, err
		}
		sp.Date = date.Format("2006-01-02")
		out = append(out, sp)
	}
	return out, rows.Err()
}

// DailyTimezones returns the per-day offset history ascending by date.
func (r *Repository) DailyTimezones(ctx context.Context, identityID, fromDate, toDate string) ([]domain.DailyTimezone, error) {
	query := `SELECT identity_id, date, offset_hours, wakeup_utc
        FROM daily_timezones WHERE identity_id=$1`
	args := []interface{}{identityID}
	if fromDate != "" {
		args = append(args, fromDate)
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if toDate != "" {
		args = append(args, toDate)
		query += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	query += ` ORDER BY date`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyTimezone
	for rows.Next() {
		var d domain.DailyTimezone
		var date time.Time
		if err := rows.Scan(&d.IdentityID, &date, &d.OffsetHours, &d.WakeupUTC); err != nil {
			return nil, err
		}
		d.Date = date.Format("2006-01-02")
		out = append(out, d)
	}
	return out, rows.Err()
}

type outboxEntry struct {
	aggregateID  string
	eventType    string
	topic        string
	partitionKey string
	payload      interface{}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, entry outboxEntry) error {
	body, err := json.Marshal(entry.payload)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = tx.Exec(ctx, stmt, "identity", entry.aggregateID, entry.eventType, entry.topic, entry.partitionKey, body)
	return err
}

func scanEvents(rows pgx.Rows) ([]domain.StatusEvent, error) {
	var out []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Source, &e.Status, &e.RawStatus, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func sourceStatusColumn(source domain.Source) (string, error) {
	switch source {
	case domain.SourceTelegram:
		return "telegram_status", nil
	case domain.SourceDiscord:
		return "discord_status", nil
	}
	return "", fmt.Errorf("no status column for source %q", source)
}

func sourceIDColumn(source domain.Source) (string, error) {
	switch source {
	case domain.SourceTelegram:
		return "telegram_id", nil
	case domain.SourceDiscord:
		return "discord_id", nil
	}
	return "", fmt.Errorf("no id column for source %q", source)
}
