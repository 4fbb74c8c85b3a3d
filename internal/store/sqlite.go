package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// sqliteSchema creates the ledger and account tables. The triggers make the
// trades table append-only at the database level.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id      TEXT PRIMARY KEY,
	initial_cash TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	id      TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	shares  INTEGER NOT NULL CHECK (shares <> 0),
	price   TEXT NOT NULL,
	ts      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_user_seq ON trades(user_id, seq);

CREATE TRIGGER IF NOT EXISTS trades_no_update BEFORE UPDATE ON trades
BEGIN
	SELECT RAISE(ABORT, 'trades are append-only');
END;

CREATE TRIGGER IF NOT EXISTS trades_no_delete BEFORE DELETE ON trades
BEGIN
	SELECT RAISE(ABORT, 'trades are append-only');
END;
`

const tradeColumns = `seq, id, user_id, symbol, name, shares, price, ts`

// SQLiteStore implements Store backed by a SQLite database. Write
// transactions start IMMEDIATE so concurrent guarded appends serialise on the
// database write lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)" +
		"&_txlock=immediate"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Ledger implementation
// ---------------------------------------------------------------------------

// Append inserts rec into the trades table.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.TradeRecord) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	seq, err := insertTrade(ctx, s.db, rec)
	if err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	return seq, nil
}

// AppendGuarded re-reads the user's cash flow and position inside an
// IMMEDIATE transaction and inserts rec only if both floors still hold.
func (s *SQLiteStore) AppendGuarded(ctx context.Context, rec domain.TradeRecord, initialCash decimal.Decimal) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("appending trade: begin: %w: %w", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	flow, position, err := sqliteExposure(ctx, tx, rec.UserID, rec.Symbol)
	if err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	if err := checkFloors(rec, initialCash, flow, position); err != nil {
		return 0, err
	}

	seq, err := insertTrade(ctx, tx, rec)
	if err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("appending trade: commit: %w: %w", domain.ErrStorage, err)
	}
	return seq, nil
}

// ListByUser returns all of the user's trades ordered by seq.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	return s.ListByUserSince(ctx, userID, 0)
}

// ListByUserSince returns the user's trades with seq > afterSeq.
func (s *SQLiteStore) ListByUserSince(ctx context.Context, userID string, afterSeq int64) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE user_id = ? AND seq > ?
		ORDER BY seq ASC`, userID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("listing trades for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec domain.TradeRecord
			ts  int64
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.UserID, &rec.Symbol, &rec.Name, &rec.Shares, &rec.Price, &ts); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
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
func (s *SQLiteStore) CreateAccount(ctx context.Context, userID string, initialCash decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, initial_cash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, initialCash.String(), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("creating account %q: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating account %q: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", domain.ErrAccountExists, userID)
	}
	return nil
}

// InitialCash returns the account's initial cash.
func (s *SQLiteStore) InitialCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	var cash decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT initial_cash FROM accounts WHERE user_id = ?`, userID).Scan(&cash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrUnknownAccount, userID)
		}
		return decimal.Zero, fmt.Errorf("reading account %q: %w", userID, err)
	}
	return cash, nil
}

// Users returns every provisioned user ID in lexical order.
func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertTrade(ctx context.Context, db execer, rec domain.TradeRecord) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, symbol, name, shares, price, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Symbol, rec.Name, rec.Shares, rec.Price.String(), rec.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// sqliteExposure folds the user's trades into the total cash flow and the
// net position in symbol. Prices are stored as text, so the sums are done in
// Go with exact decimals.
func sqliteExposure(ctx context.Context, db querier, userID, symbol string) (decimal.Decimal, int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT symbol, shares, price FROM trades WHERE user_id = ?`, userID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer rows.Close()

	flow := decimal.Zero
	var position int64
	for rows.Next() {
		var (
			sym    string
			shares int64
			price  decimal.Decimal
		)
		if err := rows.Scan(&sym, &shares, &price); err != nil {
			return decimal.Zero, 0, err
		}
		flow = flow.Add(price.Mul(decimal.NewFromInt(shares)))
		if sym == symbol {
			position += shares
		}
	}
	return flow, position, rows.Err()
}
