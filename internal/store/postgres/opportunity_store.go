package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, pair, buy_exchange, sell_exchange,
	buy_price, sell_price, absolute_diff, percent_diff,
	detected_at, created_at`

// Exists reports whether a record with identical normalized fields exists.
func (s *OpportunityStore) Exists(ctx context.Context, rec domain.OpportunityRecord) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM opportunities
			WHERE pair = $1 AND buy_exchange = $2 AND sell_exchange = $3
			  AND buy_price = $4 AND sell_price = $5
			  AND absolute_diff = $6 AND percent_diff = $7
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query,
		rec.Pair, string(rec.BuyExchange), string(rec.SellExchange),
		rec.BuyPrice, rec.SellPrice, rec.AbsoluteDiff, rec.PercentDiff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: postgres: check opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}
	return exists, nil
}

// Insert stores rec in its own transaction. A unique index violation rolls
// the transaction back and is reported as domain.ErrAlreadyExists.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.OpportunityRecord) (domain.OpportunityRecord, error) {
	const query = `
		INSERT INTO opportunities (
			pair, buy_exchange, sell_exchange,
			buy_price, sell_price, absolute_diff, percent_diff,
			detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("%w: postgres: begin tx: %v", domain.ErrStorage, err)
	}

	err = tx.QueryRow(ctx, query,
		rec.Pair, string(rec.BuyExchange), string(rec.SellExchange),
		rec.BuyPrice, rec.SellPrice, rec.AbsoluteDiff, rec.PercentDiff,
		rec.DetectedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.OpportunityRecord{}, fmt.Errorf("postgres: insert opportunity %s: %w", rec.Pair, domain.ErrAlreadyExists)
		}
		return domain.OpportunityRecord{}, fmt.Errorf("%w: postgres: insert opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("%w: postgres: commit opportunity %s: %v", domain.ErrStorage, rec.Pair, err)
	}
	return rec, nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities ORDER BY detected_at DESC, id DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var recs []domain.OpportunityRecord
	for rows.Next() {
		var (
			rec       domain.OpportunityRecord
			buy, sell string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Pair, &buy, &sell,
			&rec.BuyPrice, &rec.SellPrice, &rec.AbsoluteDiff, &rec.PercentDiff,
			&rec.DetectedAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		rec.BuyExchange = domain.Exchange(buy)
		rec.SellExchange = domain.Exchange(sell)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities rows: %w", err)
	}
	return recs, nil
}

// Count returns the number of persisted opportunities.
func (s *OpportunityStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count opportunities: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
