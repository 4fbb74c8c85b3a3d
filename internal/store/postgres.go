package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// postgresSchema mirrors the SQLite schema with native NUMERIC prices.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id      TEXT PRIMARY KEY,
	initial_cash NUMERIC NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trades (
	seq     BIGSERIAL PRIMARY KEY,
	id      TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	shares  BIGINT NOT NULL CHECK (shares <> 0),
	price   NUMERIC NOT NULL CHECK (price > 0),
	ts      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_user_seq ON trades(user_id, seq);

CREATE OR REPLACE FUNCTION trades_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'trades are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trades_no_mutation ON trades;
CREATE TRIGGER trades_no_mutation BEFORE UPDATE OR DELETE ON trades
	FOR EACH ROW EXECUTE FUNCTION trades_append_only();
`

// PostgresStore implements Store on a pgx connection pool. Guarded appends
// take a per-user advisory lock for the duration of the transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, applies the schema and returns a
// ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Ledger implementation
// ---------------------------------------------------------------------------

const pgInsertTrade = `
	INSERT INTO trades (id, user_id, symbol, name, shares, price, ts)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
	RETURNING seq`

// Append inserts rec into the trades table.
func (s *PostgresStore) Append(ctx context.Context, rec domain.TradeRecord) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	var seq int64
	err := s.pool.QueryRow(ctx, pgInsertTrade,
		rec.ID, rec.UserID, rec.Symbol, rec.Name, rec.Shares, rec.Price.String(), rec.Timestamp.UTC(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	return seq, nil
}

// AppendGuarded serialises on pg_advisory_xact_lock(user) and re-checks the
// floors against the committed rows before inserting.
func (s *PostgresStore) AppendGuarded(ctx context.Context, rec domain.TradeRecord, initialCash decimal.Decimal) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("appending trade: begin: %w: %w", domain.ErrStorage, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.UserID); err != nil {
		return 0, fmt.Errorf("appending trade: lock: %w: %w", domain.ErrStorage, err)
	}

	var (
		flowStr  string
		position int64
	)
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(shares * price), 0)::text,
		       COALESCE(SUM(shares) FILTER (WHERE symbol = $2), 0)
		FROM trades
		WHERE user_id = $1`, rec.UserID, rec.Symbol).Scan(&flowStr, &position)
	if err != nil {
		return 0, fmt.Errorf("appending trade: exposure: %w: %w", domain.ErrStorage, err)
	}
	flow, err := decimal.NewFromString(flowStr)
	if err != nil {
		return 0, fmt.Errorf("appending trade: parse flow %q: %w: %w", flowStr, domain.ErrStorage, err)
	}
	if err := checkFloors(rec, initialCash, flow, position); err != nil {
		return 0, err
	}

	var seq int64
	err = tx.QueryRow(ctx, pgInsertTrade,
		rec.ID, rec.UserID, rec.Symbol, rec.Name, rec.Shares, rec.Price.String(), rec.Timestamp.UTC(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("appending trade: commit: %w: %w", domain.ErrStorage, err)
	}
	committed = true
	return seq, nil
}

// ListByUser returns all of the user's trades ordered by seq.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	return s.ListByUserSince(ctx, userID, 0)
}

// ListByUserSince returns the user's trades with seq > afterSeq.
func (s *PostgresStore) ListByUserSince(ctx context.Context, userID string, afterSeq int64) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, user_id, symbol, name, shares, price::text, ts
		FROM trades
		WHERE user_id = $1 AND seq > $2
		ORDER BY seq ASC`, userID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("listing trades for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec      domain.TradeRecord
			priceStr string
			ts       time.Time
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.UserID, &rec.Symbol, &rec.Name, &rec.Shares, &priceStr, &ts); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", priceStr, err)
		}
		rec.Timestamp = ts.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing trades for %q: %w", userID, err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, userID string, initialCash decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, initial_cash)
		VALUES ($1, $2::numeric)
		ON CONFLICT (user_id) DO NOTHING`, userID, initialCash.String())
	if err != nil {
		return fmt.Errorf("creating account %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", domain.ErrAccountExists, userID)
	}
	return nil
}

// InitialCash returns the account's initial cash.
func (s *PostgresStore) InitialCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	var cashStr string
	err := s.pool.QueryRow(ctx,
		`SELECT initial_cash::text FROM accounts WHERE user_id = $1`, userID).Scan(&cashStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrUnknownAccount, userID)
		}
		return decimal.Zero, fmt.Errorf("reading account %q: %w", userID, err)
	}
	return decimal.NewFromString(cashStr)
}
