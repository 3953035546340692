// Package sqlite implements domain.OpportunityStore on an embedded SQLite
// database (modernc.org/sqlite, no cgo). It is the default single-node
// storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

const defaultPath = "data/spreadbot.db"

// Store wraps a SQLite DB connection.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the SQLite database, then ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: ensure data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection serializes writers inside the process; busy_timeout
	// covers other processes sharing the file.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS opportunities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pair TEXT NOT NULL,
	buy_exchange TEXT NOT NULL,
	sell_exchange TEXT NOT NULL,
	buy_price REAL NOT NULL,
	sell_price REAL NOT NULL,
	absolute_diff REAL NOT NULL,
	percent_diff REAL NOT NULL,
	detected_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	CHECK (buy_exchange <> sell_exchange)
);
CREATE UNIQUE INDEX IF NOT EXISTS opportunities_dedup_idx ON opportunities(
	pair, buy_exchange, sell_exchange, buy_price, sell_price, absolute_diff, percent_diff
);
CREATE INDEX IF NOT EXISTS opportunities_detected_at_idx ON opportunities(detected_at);
`

// Exists reports whether a record with identical normalized fields exists.
func (s *Store) Exists(ctx context.Context, rec domain.OpportunityRecord) (bool, error) {
	const query = `
SELECT EXISTS(
	SELECT 1 FROM opportunities
	WHERE pair = ? AND buy_exchange = ? AND sell_exchange = ?
	  AND buy_price = ? AND sell_price = ? AND absolute_diff = ? AND percent_diff = ?
)`
	var exists bool
	err := s.db.QueryRowContext(ctx, query,
		rec.Pair, string(rec.BuyExchange), string(rec.SellExchange),
		rec.BuyPrice, rec.SellPrice, rec.AbsoluteDiff, rec.PercentDiff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: sqlite: check opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}
	return exists, nil
}

// Insert stores rec in its own transaction. A unique index violation rolls
// back and is reported as domain.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, rec domain.OpportunityRecord) (domain.OpportunityRecord, error) {
	const query = `
INSERT INTO opportunities (
	pair, buy_exchange, sell_exchange,
	buy_price, sell_price, absolute_diff, percent_diff,
	detected_at, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("%w: sqlite: begin tx: %v", domain.ErrStorage, err)
	}

	created := time.Now().UTC()
	res, err := tx.ExecContext(ctx, query,
		rec.Pair, string(rec.BuyExchange), string(rec.SellExchange),
		rec.BuyPrice, rec.SellPrice, rec.AbsoluteDiff, rec.PercentDiff,
		formatTime(rec.DetectedAt), formatTime(created),
	)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return domain.OpportunityRecord{}, fmt.Errorf("sqlite: insert opportunity %s: %w", rec.Pair, domain.ErrAlreadyExists)
		}
		return domain.OpportunityRecord{}, fmt.Errorf("%w: sqlite: insert opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return domain.OpportunityRecord{}, fmt.Errorf("%w: sqlite: last insert id: %v", domain.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("%w: sqlite: commit opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}

	rec.ID = id
	rec.CreatedAt = created
	return rec, nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	query := `
SELECT id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
	absolute_diff, percent_diff, detected_at, created_at
FROM opportunities ORDER BY detected_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var recs []domain.OpportunityRecord
	for rows.Next() {
		var (
			rec               domain.OpportunityRecord
			buy, sell         string
			detected, created string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Pair, &buy, &sell, &rec.BuyPrice, &rec.SellPrice,
			&rec.AbsoluteDiff, &rec.PercentDiff, &detected, &created,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan opportunity: %w", err)
		}
		rec.BuyExchange = domain.Exchange(buy)
		rec.SellExchange = domain.Exchange(sell)
		rec.DetectedAt = parseTime(detected)
		rec.CreatedAt = parseTime(created)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list recent opportunities rows: %w", err)
	}
	return recs, nil
}

// Count returns the number of persisted opportunities.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count opportunities: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*Store)(nil)
