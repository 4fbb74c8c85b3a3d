package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the provisioning record that supplies a user's initial cash.
type Account struct {
	UserID      string          `json:"user_id"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Holding is one row of a portfolio: a symbol the user currently holds.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	Shares       int64           `json:"shares"`
	Cost         decimal.Decimal `json:"cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	Stale        bool            `json:"stale,omitempty"` // live quote unavailable
}

// Portfolio summarises a user's cash and holdings at current prices.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Cash       decimal.Decimal `json:"cash"`
	Holdings   []Holding       `json:"holdings"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// HistoryEntry is a ledger row prepared for display, with the cash balance
// that resulted from it.
type HistoryEntry struct {
	Seq       int64           `json:"seq"`
	Symbol    string          `json:"symbol"`
	Type      string          `json:"type"` // "Buy" or "Sell"
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	CashAfter decimal.Decimal `json:"cash_after"`
	Timestamp time.Time       `json:"timestamp"`
}

// History is the full trade history of a user in append order.
type History struct {
	UserID  string          `json:"user_id"`
	Entries []HistoryEntry  `json:"entries"`
	Cash    decimal.Decimal `json:"cash"`
}

// TradeEvent is published after a trade has been committed.
type TradeEvent struct {
	Type   string      `json:"type"` // "trade"
	Record TradeRecord `json:"record"`
}
