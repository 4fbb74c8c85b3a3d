package engine

import (
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// TradeValidator decides whether a proposed trade may be committed given a
// fresh quote and the user's current aggregate. It has no side effects.
//
// Checks run in a fixed order and the first failure wins:
//
//   - non-positive quantity: InvalidQuantity
//   - unknown side: InvalidSide
//   - missing quote, mismatched symbol or non-positive price: SymbolNotFound
//   - buy that would overflow the position: InvalidQuantity
//   - buy costing more than the available cash: InsufficientFunds
//   - sell larger than the held position: InsufficientShares
type TradeValidator struct{}

// NewTradeValidator creates a TradeValidator.
func NewTradeValidator() *TradeValidator {
	return &TradeValidator{}
}

// Precheck runs the checks that need neither a quote nor the ledger.
func (v *TradeValidator) Precheck(req domain.TradeRequest) domain.RejectReason {
	if req.Shares <= 0 {
		return domain.ReasonInvalidQuantity
	}
	if !req.Side.Valid() {
		return domain.ReasonInvalidSide
	}
	return ""
}

// Validate returns the signed record ready for commit, or the reason the
// trade is rejected. The returned record has no ID, Seq or Timestamp yet.
func (v *TradeValidator) Validate(req domain.TradeRequest, quote *domain.Quote, agg *Aggregate, initialCash decimal.Decimal) (domain.TradeRecord, domain.RejectReason) {
	if reason := v.Precheck(req); reason != "" {
		return domain.TradeRecord{}, reason
	}
	symbol := domain.NormalizeSymbol(req.Symbol)
	if quote == nil || symbol == "" || domain.NormalizeSymbol(quote.Symbol) != symbol || !quote.Price.IsPositive() {
		return domain.TradeRecord{}, domain.ReasonSymbolNotFound
	}

	switch req.Side {
	case domain.SideBuy:
		if agg.NetShares(symbol) > math.MaxInt64-req.Shares {
			return domain.TradeRecord{}, domain.ReasonInvalidQuantity
		}
		cost := quote.Price.Mul(decimal.NewFromInt(req.Shares))
		if cost.GreaterThan(agg.AvailableCash(initialCash)) {
			return domain.TradeRecord{}, domain.ReasonInsufficientFunds
		}
	case domain.SideSell:
		if req.Shares > agg.NetShares(symbol) {
			return domain.TradeRecord{}, domain.ReasonInsufficientShares
		}
	}

	return domain.TradeRecord{
		UserID: req.UserID,
		Symbol: symbol,
		Name:   quote.Name,
		Shares: req.SignedShares(),
		Price:  quote.Price,
	}, ""
}
