// Package domain defines the core types shared across the papertrade system:
// trade records, quotes, trade requests and results, and the read-side views
// (portfolio and history) derived from a user's ledger.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Side is the direction of a proposed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for a buy, -1 for a sell and 0 for anything else.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// ParseSide parses a side name case-insensitively.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// NormalizeSymbol returns the canonical (trimmed, upper-case) ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateUserID rejects user IDs that are empty, contain path separators or
// control characters, or are the "." and ".." path names.
func ValidateUserID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty user id", ErrInvalidInput)
	case id == "." || id == "..":
		return fmt.Errorf("%w: user id %q", ErrInvalidInput, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: user id %q contains a path separator", ErrInvalidInput, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: user id %q contains a control character", ErrInvalidInput, id)
		}
	}
	return nil
}

// TradeRecord is one committed buy or sell. Shares is signed: positive for a
// buy, negative for a sell. Records are immutable once appended to a ledger.
type TradeRecord struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name,omitempty"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Side derives the trade direction from the sign of Shares.
func (r TradeRecord) Side() Side {
	if r.Shares < 0 {
		return SideSell
	}
	return SideBuy
}

// Total is the signed cash flow of the trade (Shares × Price). Buys are
// positive and sells negative, so cash = initial - Σ Total.
func (r TradeRecord) Total() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Shares))
}

// Check verifies the structural invariants every stored record must satisfy.
func (r TradeRecord) Check() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("trade record: empty user id")
	case r.Symbol == "" || r.Symbol != NormalizeSymbol(r.Symbol):
		return fmt.Errorf("trade record: invalid symbol %q", r.Symbol)
	case r.Shares == 0:
		return fmt.Errorf("trade record: %w", ErrInvalidQuantity)
	case !r.Price.IsPositive():
		return fmt.Errorf("trade record: non-positive price %s", r.Price)
	}
	return nil
}

// Quote is a live market price for a symbol as returned by a quote provider.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// TradeRequest is a caller's proposed trade. Shares is the unsigned quantity;
// the sign is derived from Side.
type TradeRequest struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
	Side   Side   `json:"side"`
}

// SignedShares returns the quantity with the sign implied by Side.
func (r TradeRequest) SignedShares() int64 {
	return r.Shares * r.Side.Sign()
}

// TradeStatus is the terminal state of a proposed trade.
type TradeStatus string

const (
	TradeCommitted TradeStatus = "committed"
	TradeRejected  TradeStatus = "rejected"
)

// TradeResult is the outcome of ProposeTrade. Exactly one of Record (when
// Committed) or Reason (when Rejected) is meaningful.
type TradeResult struct {
	Status TradeStatus  `json:"status"`
	Record TradeRecord  `json:"record,omitempty"`
	Reason RejectReason `json:"reason,omitempty"`
}

// Committed reports whether the trade was appended to the ledger.
func (r TradeResult) Committed() bool {
	return r.Status == TradeCommitted
}

// Err returns the sentinel error matching the rejection reason, or nil for a
// committed trade.
func (r TradeResult) Err() error {
	if r.Status != TradeRejected {
		return nil
	}
	return r.Reason.Err()
}

// Committed builds a successful TradeResult.
func Committed(rec TradeRecord) TradeResult {
	return TradeResult{Status: TradeCommitted, Record: rec}
}

// Rejected builds a rejected TradeResult.
func Rejected(reason RejectReason) TradeResult {
	return TradeResult{Status: TradeRejected, Reason: reason}
}
