// Package httpapi provides the JSON HTTP API over the ledger engine: account
// provisioning, quotes, trading, and the cash, position, portfolio and
// history views.
package httpapi

import (
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// OpenAccountRequest is the body of POST /api/v1/accounts.
type OpenAccountRequest struct {
	UserID      string          `json:"user_id"`
	InitialCash decimal.Decimal `json:"initial_cash"` // zero means the configured default
}

// TradeRequestJSON is the body of POST /api/v1/users/{user}/trades.
type TradeRequestJSON struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
	Side   string `json:"side"`
}

// TradeResponse is returned for both committed and rejected trades.
type TradeResponse struct {
	Status domain.TradeStatus  `json:"status"`
	Record *domain.TradeRecord `json:"record,omitempty"`
	Reason domain.RejectReason `json:"reason,omitempty"`
}

// CashResponse is returned by GET /api/v1/users/{user}/cash.
type CashResponse struct {
	UserID string          `json:"user_id"`
	Cash   decimal.Decimal `json:"cash"`
}

// PositionResponse is returned by GET /api/v1/users/{user}/positions/{symbol}.
type PositionResponse struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}
