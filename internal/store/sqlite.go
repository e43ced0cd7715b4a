// Package store provides the embedded SQLite cache for mortality
// observations, per-scope freshness and chat subscriptions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"momobot/internal/momo"
)

var (
	// ErrNotFound is returned when no row exists for the requested key.
	ErrNotFound = errors.New("not found in store")
)

// Store is a SQLite-backed cache. It is safe for concurrent use: WAL
// mode keeps readers off writers, and busy_timeout bounds lock waits to
// the duration of a single transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Table creation is idempotent; there is no migration
// tooling beyond it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS observations (
			scope    TEXT NOT NULL,
			date     TEXT NOT NULL,
			observed INTEGER NOT NULL,
			expected REAL NOT NULL,
			PRIMARY KEY (scope, date)
		);
		CREATE INDEX IF NOT EXISTS idx_observations_scope_date
			ON observations(scope, date);

		CREATE TABLE IF NOT EXISTS scope_freshness (
			scope             TEXT PRIMARY KEY,
			last_refreshed_at TEXT NOT NULL,
			last_covered_date TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			chat_id       INTEGER PRIMARY KEY,
			scopes        TEXT NOT NULL DEFAULT '',
			auto_send     INTEGER NOT NULL DEFAULT 0,
			notify_hour   INTEGER NOT NULL DEFAULT 12,
			notify_minute INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// UpsertObservations writes a batch inside one transaction: either the
// whole refresh lands or none of it does. Re-upserting the same
// (scope, date) replaces the row, it never duplicates.
func (s *Store) UpsertObservations(ctx context.Context, obs []momo.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (scope, date, observed, expected)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, date) DO UPDATE SET
			observed = excluded.observed,
			expected = excluded.expected
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.Scope.Key(), o.Date.Format(momo.DateLayout), o.Observed, o.Expected); err != nil {
			return fmt.Errorf("upsert %s %s: %w", o.Scope.Key(), o.Date.Format(momo.DateLayout), err)
		}
	}

	return tx.Commit()
}

// QueryRange returns the scope's observations in [from, to], ordered by
// date ascending.
func (s *Store) QueryRange(ctx context.Context, scope momo.Scope, from, to time.Time) ([]momo.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, observed, expected FROM observations
		WHERE scope = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, scope.Key(), from.Format(momo.DateLayout), to.Format(momo.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	var obs []momo.Observation
	for rows.Next() {
		o, err := scanObservation(rows, scope)
		if err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// Latest returns the most recent observation for the scope, or
// ErrNotFound when the scope has no cached rows.
func (s *Store) Latest(ctx context.Context, scope momo.Scope) (momo.Observation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, observed, expected FROM observations
		WHERE scope = ?
		ORDER BY date DESC
		LIMIT 1
	`, scope.Key())

	o, err := scanObservation(row, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return momo.Observation{}, ErrNotFound
	}
	return o, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(r rowScanner, scope momo.Scope) (momo.Observation, error) {
	var (
		dateStr  string
		observed int
		expected float64
	)
	if err := r.Scan(&dateStr, &observed, &expected); err != nil {
		return momo.Observation{}, err
	}
	date, err := time.ParseInLocation(momo.DateLayout, dateStr, time.UTC)
	if err != nil {
		return momo.Observation{}, fmt.Errorf("corrupt date %q in store: %w", dateStr, err)
	}
	return momo.Observation{Scope: scope, Date: date, Observed: observed, Expected: expected}, nil
}

// Freshness returns the scope's freshness row, or ErrNotFound when the
// scope has never completed a refresh.
func (s *Store) Freshness(ctx context.Context, scope momo.Scope) (momo.ScopeFreshness, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_refreshed_at, last_covered_date FROM scope_freshness WHERE scope = ?
	`, scope.Key())

	var refreshedStr, coveredStr string
	if err := row.Scan(&refreshedStr, &coveredStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return momo.ScopeFreshness{}, ErrNotFound
		}
		return momo.ScopeFreshness{}, err
	}

	refreshed, err := time.Parse(time.RFC3339, refreshedStr)
	if err != nil {
		return momo.ScopeFreshness{}, fmt.Errorf("corrupt last_refreshed_at %q: %w", refreshedStr, err)
	}
	covered, err := time.ParseInLocation(momo.DateLayout, coveredStr, time.UTC)
	if err != nil {
		return momo.ScopeFreshness{}, fmt.Errorf("corrupt last_covered_date %q: %w", coveredStr, err)
	}
	return momo.ScopeFreshness{Scope: scope, LastRefreshedAt: refreshed, LastCoveredDate: covered}, nil
}

// SetFreshness upserts the scope's freshness row. last_covered_date is
// clamped so it never regresses, even if a refresh fetched a shorter
// window than a previous one.
func (s *Store) SetFreshness(ctx context.Context, f momo.ScopeFreshness) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope_freshness (scope, last_refreshed_at, last_covered_date)
		VALUES (?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			last_refreshed_at = excluded.last_refreshed_at,
			last_covered_date = MAX(scope_freshness.last_covered_date, excluded.last_covered_date)
	`, f.Scope.Key(), f.LastRefreshedAt.UTC().Format(time.RFC3339), f.LastCoveredDate.Format(momo.DateLayout))
	if err != nil {
		return fmt.Errorf("set freshness: %w", err)
	}
	return nil
}
