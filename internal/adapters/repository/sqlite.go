package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// SQLiteStore is the durable Store. The events table is append-only: no
// UPDATE or DELETE ever touches it, corrections flow through recompute and
// the corrections trail. WAL mode keeps readers unblocked by the single
// writer; transactions open immediate so the write lock is taken up front.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	idempotency_key     TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	unit                TEXT NOT NULL DEFAULT '',
	occurred_at         TEXT NOT NULL,
	recorded_at         TEXT NOT NULL,
	verified            INTEGER NOT NULL DEFAULT 1,
	metadata            TEXT NOT NULL DEFAULT '{}',
	result_user_total   TEXT,
	result_global_total TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);

CREATE TABLE IF NOT EXISTS user_aggregates (
	user_id       TEXT PRIMARY KEY,
	total         TEXT NOT NULL,
	event_count   INTEGER NOT NULL,
	last_event_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS global_aggregate (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	total       TEXT NOT NULL,
	event_count INTEGER NOT NULL,
	updated_at  TEXT NOT NULL
);
INSERT OR IGNORE INTO global_aggregate (id, total, event_count, updated_at)
	VALUES (1, '0', 0, '');

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	previous_total  TEXT NOT NULL,
	corrected_total TEXT NOT NULL,
	discrepancy     TEXT NOT NULL,
	reason          TEXT NOT NULL,
	actor           TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. Options tune the connection string.
func NewSQLiteStore(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	cfg := sqliteConfig{busyTimeout: 5 * time.Second, walMode: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		path, cfg.busyTimeout.Milliseconds())
	if cfg.walMode {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One writer at a time keeps BEGIN IMMEDIATE from fighting itself.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetEvent implements Store.GetEvent.
func (s *SQLiteStore) GetEvent(ctx context.Context, idempotencyKey string) (model.ActionEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, user_id, quantity, unit, occurred_at, recorded_at, verified, metadata,
		       result_user_total, result_global_total
		FROM events WHERE idempotency_key = ?`, idempotencyKey)
	return scanEvent(row)
}

// CommitEvent implements Store.CommitEvent as one immediate transaction.
func (s *SQLiteStore) CommitEvent(ctx context.Context, ev model.ActionEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreCommitLatency(float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Derive the post-commit aggregates first so the event row can carry
	// its own resulting totals; everything lands in one transaction either
	// way. Decimal arithmetic stays in Go, SQLite would sum floats.
	ua := model.UserAggregate{UserID: ev.UserID, Total: decimal.Zero}
	var total, lastAt string
	err = tx.QueryRowContext(ctx,
		`SELECT total, event_count, last_event_at FROM user_aggregates WHERE user_id = ?`,
		ev.UserID).Scan(&total, &ua.EventCount, &lastAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first committed event for this user
	case err != nil:
		return fmt.Errorf("read user aggregate: %w", err)
	default:
		if ua.Total, err = decimal.NewFromString(total); err != nil {
			return fmt.Errorf("parse user total: %w", err)
		}
		if ua.LastEventAt, err = parseTime(lastAt); err != nil {
			return fmt.Errorf("parse user last event time: %w", err)
		}
	}
	ua.Total = ua.Total.Add(ev.Quantity)
	ua.EventCount++
	if ev.OccurredAt.After(ua.LastEventAt) {
		ua.LastEventAt = ev.OccurredAt
	}

	var gTotal string
	var gCount int64
	if err := tx.QueryRowContext(ctx,
		`SELECT total, event_count FROM global_aggregate WHERE id = 1`).Scan(&gTotal, &gCount); err != nil {
		return fmt.Errorf("read global aggregate: %w", err)
	}
	g, err := decimal.NewFromString(gTotal)
	if err != nil {
		return fmt.Errorf("parse global total: %w", err)
	}
	g = g.Add(ev.Quantity)

	ev.ResultUserTotal = decimal.NewNullDecimal(ua.Total)
	ev.ResultGlobalTotal = decimal.NewNullDecimal(g)
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_aggregates (user_id, total, event_count, last_event_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total = excluded.total,
			event_count = excluded.event_count,
			last_event_at = excluded.last_event_at`,
		ua.UserID, ua.Total.String(), ua.EventCount, formatTime(ua.LastEventAt)); err != nil {
		return fmt.Errorf("write user aggregate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE global_aggregate SET total = ?, event_count = ?, updated_at = ? WHERE id = 1`,
		g.String(), gCount+1, formatTime(ev.RecordedAt)); err != nil {
		return fmt.Errorf("write global aggregate: %w", err)
	}

	return tx.Commit()
}

// InsertEventOnly implements Store.InsertEventOnly.
func (s *SQLiteStore) InsertEventOnly(ctx context.Context, ev model.ActionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// UserAggregate implements Store.UserAggregate.
func (s *SQLiteStore) UserAggregate(ctx context.Context, userID string) (model.UserAggregate, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, total, event_count, last_event_at FROM user_aggregates WHERE user_id = ?`,
		userID)
	return scanUserAggregate(row)
}

// UserAggregates implements Store.UserAggregates. The whole result set comes
// from one statement, which in SQLite reads a single consistent snapshot.
func (s *SQLiteStore) UserAggregates(ctx context.Context) ([]model.UserAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total, event_count, last_event_at FROM user_aggregates`)
	if err != nil {
		return nil, fmt.Errorf("list user aggregates: %w", err)
	}
	defer rows.Close()

	var out []model.UserAggregate
	for rows.Next() {
		ua, err := scanUserAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

// GlobalAggregate implements Store.GlobalAggregate.
func (s *SQLiteStore) GlobalAggregate(ctx context.Context) (model.GlobalAggregate, error) {
	var g model.GlobalAggregate
	var total, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT total, event_count, updated_at FROM global_aggregate WHERE id = 1`).
		Scan(&total, &g.EventCount, &updatedAt)
	if err != nil {
		return model.GlobalAggregate{}, fmt.Errorf("read global aggregate: %w", err)
	}
	if g.Total, err = decimal.NewFromString(total); err != nil {
		return model.GlobalAggregate{}, fmt.Errorf("parse global total: %w", err)
	}
	if updatedAt != "" {
		if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return model.GlobalAggregate{}, fmt.Errorf("parse global updated time: %w", err)
		}
	}
	return g, nil
}

// RecomputeUser implements Store.RecomputeUser. Quantities are summed in Go
// so the result is an exact decimal, not a float SUM().
func (s *SQLiteStore) RecomputeUser(ctx context.Context, userID string) (model.UserAggregate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.UserAggregate{}, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT quantity, occurred_at FROM events WHERE user_id = ?`, userID)
	if err != nil {
		return model.UserAggregate{}, fmt.Errorf("list user events: %w", err)
	}
	ua := model.UserAggregate{UserID: userID, Total: decimal.Zero}
	for rows.Next() {
		var qty, occurredAt string
		if err := rows.Scan(&qty, &occurredAt); err != nil {
			rows.Close()
			return model.UserAggregate{}, fmt.Errorf("scan user event: %w", err)
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			rows.Close()
			return model.UserAggregate{}, fmt.Errorf("parse event quantity: %w", err)
		}
		at, err := parseTime(occurredAt)
		if err != nil {
			rows.Close()
			return model.UserAggregate{}, fmt.Errorf("parse event time: %w", err)
		}
		ua.Total = ua.Total.Add(q)
		ua.EventCount++
		if at.After(ua.LastEventAt) {
			ua.LastEventAt = at
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.UserAggregate{}, err
	}
	if ua.EventCount == 0 {
		return model.UserAggregate{}, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_aggregates (user_id, total, event_count, last_event_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total = excluded.total,
			event_count = excluded.event_count,
			last_event_at = excluded.last_event_at`,
		ua.UserID, ua.Total.String(), ua.EventCount, formatTime(ua.LastEventAt)); err != nil {
		return model.UserAggregate{}, fmt.Errorf("write user aggregate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.UserAggregate{}, err
	}
	return ua, nil
}

// RecomputeGlobal implements Store.RecomputeGlobal.
func (s *SQLiteStore) RecomputeGlobal(ctx context.Context) (model.GlobalAggregate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.GlobalAggregate{}, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT total, event_count FROM user_aggregates`)
	if err != nil {
		return model.GlobalAggregate{}, fmt.Errorf("list user aggregates: %w", err)
	}
	total := decimal.Zero
	var count int64
	for rows.Next() {
		var t string
		var c int64
		if err := rows.Scan(&t, &c); err != nil {
			rows.Close()
			return model.GlobalAggregate{}, fmt.Errorf("scan user aggregate: %w", err)
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			rows.Close()
			return model.GlobalAggregate{}, fmt.Errorf("parse user total: %w", err)
		}
		total = total.Add(d)
		count += c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.GlobalAggregate{}, err
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE global_aggregate SET total = ?, event_count = ?, updated_at = ? WHERE id = 1`,
		total.String(), count, formatTime(now)); err != nil {
		return model.GlobalAggregate{}, fmt.Errorf("write global aggregate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.GlobalAggregate{}, err
	}
	return model.GlobalAggregate{Total: total, EventCount: count, UpdatedAt: now}, nil
}

// SetGlobalTotal implements Store.SetGlobalTotal.
func (s *SQLiteStore) SetGlobalTotal(ctx context.Context, total decimal.Decimal, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE global_aggregate SET total = ?, updated_at = ? WHERE id = 1`,
		total.String(), formatTime(at))
	if err != nil {
		return fmt.Errorf("set global total: %w", err)
	}
	return nil
}

// AppendCorrection implements Store.AppendCorrection.
func (s *SQLiteStore) AppendCorrection(ctx context.Context, rec model.CorrectionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, previous_total, corrected_total, discrepancy, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PreviousTotal.String(), rec.CorrectedTotal.String(),
		rec.Discrepancy.String(), rec.Reason, rec.Actor, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("append correction: %w", err)
	}
	return nil
}

// Corrections implements Store.Corrections.
func (s *SQLiteStore) Corrections(ctx context.Context, limit int) ([]model.CorrectionRecord, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, previous_total, corrected_total, discrepancy, reason, actor, created_at
		FROM corrections ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []model.CorrectionRecord
	for rows.Next() {
		var rec model.CorrectionRecord
		var prev, corrected, disc, createdAt string
		if err := rows.Scan(&rec.ID, &prev, &corrected, &disc, &rec.Reason, &rec.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		if rec.PreviousTotal, err = decimal.NewFromString(prev); err != nil {
			return nil, fmt.Errorf("parse correction previous total: %w", err)
		}
		if rec.CorrectedTotal, err = decimal.NewFromString(corrected); err != nil {
			return nil, fmt.Errorf("parse correction corrected total: %w", err)
		}
		if rec.Discrepancy, err = decimal.NewFromString(disc); err != nil {
			return nil, fmt.Errorf("parse correction discrepancy: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse correction time: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts implements Store.Counts.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&c.Events); err != nil {
		return Counts{}, fmt.Errorf("count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_aggregates`).Scan(&c.Users); err != nil {
		return Counts{}, fmt.Errorf("count users: %w", err)
	}
	return c, nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// insertEvent inserts an event row, mapping the primary-key constraint to
// ErrDuplicateKey so concurrent duplicates are rejected, not double-applied.
func insertEvent(ctx context.Context, tx *sql.Tx, ev model.ActionEvent) error {
	md, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	var resultUser, resultGlobal any
	if ev.HasResult() {
		resultUser = ev.ResultUserTotal.Decimal.String()
		resultGlobal = ev.ResultGlobalTotal.Decimal.String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (idempotency_key, user_id, quantity, unit, occurred_at, recorded_at, verified, metadata,
			result_user_total, result_global_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.IdempotencyKey, ev.UserID, ev.Quantity.String(), ev.Unit,
		formatTime(ev.OccurredAt), formatTime(ev.RecordedAt), ev.Verified, string(md),
		resultUser, resultGlobal)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.ActionEvent, error) {
	var ev model.ActionEvent
	var qty, occurredAt, recordedAt, md string
	var resultUser, resultGlobal sql.NullString
	err := row.Scan(&ev.IdempotencyKey, &ev.UserID, &qty, &ev.Unit,
		&occurredAt, &recordedAt, &ev.Verified, &md, &resultUser, &resultGlobal)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ActionEvent{}, ErrNotFound
	}
	if err != nil {
		return model.ActionEvent{}, fmt.Errorf("scan event: %w", err)
	}
	if ev.Quantity, err = decimal.NewFromString(qty); err != nil {
		return model.ActionEvent{}, fmt.Errorf("parse event quantity: %w", err)
	}
	if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
		return model.ActionEvent{}, fmt.Errorf("parse event occurrence time: %w", err)
	}
	if ev.RecordedAt, err = parseTime(recordedAt); err != nil {
		return model.ActionEvent{}, fmt.Errorf("parse event record time: %w", err)
	}
	if err := json.Unmarshal([]byte(md), &ev.Metadata); err != nil {
		return model.ActionEvent{}, fmt.Errorf("decode event metadata: %w", err)
	}
	if resultUser.Valid && resultGlobal.Valid {
		u, err := decimal.NewFromString(resultUser.String)
		if err != nil {
			return model.ActionEvent{}, fmt.Errorf("parse event result user total: %w", err)
		}
		g, err := decimal.NewFromString(resultGlobal.String)
		if err != nil {
			return model.ActionEvent{}, fmt.Errorf("parse event result global total: %w", err)
		}
		ev.ResultUserTotal = decimal.NewNullDecimal(u)
		ev.ResultGlobalTotal = decimal.NewNullDecimal(g)
	}
	return ev, nil
}

func scanUserAggregate(row rowScanner) (model.UserAggregate, error) {
	var ua model.UserAggregate
	var total, lastAt string
	err := row.Scan(&ua.UserID, &total, &ua.EventCount, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserAggregate{}, ErrNotFound
	}
	if err != nil {
		return model.UserAggregate{}, fmt.Errorf("scan user aggregate: %w", err)
	}
	if ua.Total, err = decimal.NewFromString(total); err != nil {
		return model.UserAggregate{}, fmt.Errorf("parse user total: %w", err)
	}
	if ua.LastEventAt, err = parseTime(lastAt); err != nil {
		return model.UserAggregate{}, fmt.Errorf("parse user last event time: %w", err)
	}
	return ua, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
