// Package quote defines the Provider interface for live price lookups and
// provides implementations backed by Alpaca and by a static simulator table,
// plus caching and retry decorators.
package quote

import (
	"context"
	"errors"

	"papertrade/internal/domain"
)

// ErrNotFound is returned when a provider has no quote for a symbol.
var ErrNotFound = errors.New("quote not found")

// Provider looks up live quotes.
type Provider interface {
	// Name returns the provider identifier (e.g. "alpaca", "simulator").
	Name() string

	// Lookup returns the current quote for symbol, or an error wrapping
	// ErrNotFound when the symbol is unknown.
	Lookup(ctx context.Context, symbol string) (*domain.Quote, error)
}
