// Package store defines storage interfaces for the trade ledger and account
// provisioning, with SQLite, Postgres and in-memory implementations plus a
// Parquet archive for exporting ledger history.
package store

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Ledger is the append-only system of record for trade records. There is no
// update or delete: Append is the only mutation.
type Ledger interface {
	// Append durably persists rec and returns the sequence number assigned
	// to it. The record is on stable storage when Append returns nil.
	Append(ctx context.Context, rec domain.TradeRecord) (int64, error)

	// ListByUser returns every record of the user in append order.
	ListByUser(ctx context.Context, userID string) ([]domain.TradeRecord, error)

	// ListByUserSince returns the user's records with Seq > afterSeq, in
	// append order.
	ListByUserSince(ctx context.Context, userID string, afterSeq int64) ([]domain.TradeRecord, error)
}

// GuardedLedger is implemented by ledgers that can re-check the cash and
// position floors inside the same transaction as the insert.
type GuardedLedger interface {
	Ledger

	// AppendGuarded appends rec unless doing so would leave the user's cash
	// (for a buy) or the symbol position (for a sell) negative, in which case
	// it returns domain.ErrInsufficientFunds or domain.ErrInsufficientShares
	// and persists nothing.
	AppendGuarded(ctx context.Context, rec domain.TradeRecord, initialCash decimal.Decimal) (int64, error)
}

// AccountStore provisions accounts and supplies their initial cash.
type AccountStore interface {
	// CreateAccount registers a user with the given initial cash. It returns
	// domain.ErrAccountExists if the user is already registered.
	CreateAccount(ctx context.Context, userID string, initialCash decimal.Decimal) error

	// InitialCash returns the cash credited at account creation, or
	// domain.ErrUnknownAccount.
	InitialCash(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Store is a ledger that also provisions accounts. All three backends
// implement it.
type Store interface {
	GuardedLedger
	AccountStore
	Close() error
}

// checkFloors applies the guarded-append rule to the user's current cash flow
// and symbol position.
func checkFloors(rec domain.TradeRecord, initialCash, flow decimal.Decimal, position int64) error {
	if rec.Shares > 0 && position > math.MaxInt64-rec.Shares {
		return domain.ErrInvalidQuantity
	}
	if rec.Shares > 0 && initialCash.Sub(flow.Add(rec.Total())).IsNegative() {
		return domain.ErrInsufficientFunds
	}
	if rec.Shares < 0 && position+rec.Shares < 0 {
		return domain.ErrInsufficientShares
	}
	return nil
}
