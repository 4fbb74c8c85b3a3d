package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Aggregate is the folded view of a prefix of one user's ledger: the net
// position per symbol and the total signed cash flow. Cash is never stored;
// it is derived from Flow and the account's initial cash.
type Aggregate struct {
	Seq       int64            // highest ledger sequence folded so far
	Positions map[string]int64 // symbol -> net shares
	Flow      decimal.Decimal  // Σ Shares × Price
	Last      time.Time        // latest trade timestamp
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{Positions: make(map[string]int64), Flow: decimal.Zero}
}

// Recompute builds an aggregate from scratch by scanning every record.
func Recompute(recs []domain.TradeRecord) *Aggregate {
	a := NewAggregate()
	a.Fold(recs...)
	return a
}

// Fold adds records to the aggregate. Records at or below the current Seq
// were already counted and are skipped, so folding an overlapping range twice
// is harmless. Records must be passed in append order.
func (a *Aggregate) Fold(recs ...domain.TradeRecord) {
	for _, r := range recs {
		if r.Seq <= a.Seq {
			continue
		}
		a.Seq = r.Seq
		a.Positions[r.Symbol] += r.Shares
		if a.Positions[r.Symbol] == 0 {
			delete(a.Positions, r.Symbol)
		}
		a.Flow = a.Flow.Add(r.Total())
		if r.Timestamp.After(a.Last) {
			a.Last = r.Timestamp
		}
	}
}

// NetShares returns the position in symbol, 0 when never traded.
func (a *Aggregate) NetShares(symbol string) int64 {
	return a.Positions[symbol]
}

// AvailableCash returns initialCash minus the cash flow folded so far.
func (a *Aggregate) AvailableCash(initialCash decimal.Decimal) decimal.Decimal {
	return initialCash.Sub(a.Flow)
}

// Clone returns a deep copy that can be folded independently.
func (a *Aggregate) Clone() *Aggregate {
	c := &Aggregate{
		Seq:       a.Seq,
		Positions: make(map[string]int64, len(a.Positions)),
		Flow:      a.Flow,
		Last:      a.Last,
	}
	for k, v := range a.Positions {
		c.Positions[k] = v
	}
	return c
}

// Equal reports whether two aggregates describe the same ledger state.
func (a *Aggregate) Equal(b *Aggregate) bool {
	if a.Seq != b.Seq || !a.Flow.Equal(b.Flow) || len(a.Positions) != len(b.Positions) {
		return false
	}
	for k, v := range a.Positions {
		if b.Positions[k] != v {
			return false
		}
	}
	return true
}
