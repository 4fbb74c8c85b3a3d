package quote

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*Simulator)(nil)

// Simulator serves quotes from an in-memory table. It makes no external API
// calls and is used for offline paper trading and tests.
type Simulator struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewSimulator creates an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{quotes: make(map[string]domain.Quote)}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// Set installs or replaces the quote for symbol.
func (s *Simulator) Set(symbol, name string, price decimal.Decimal) {
	symbol = domain.NormalizeSymbol(symbol)
	s.mu.Lock()
	s.quotes[symbol] = domain.Quote{Symbol: symbol, Name: name, Price: price}
	s.mu.Unlock()
}

// Lookup returns a copy of the stored quote.
func (s *Simulator) Lookup(_ context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("simulator: %s: %w", symbol, ErrNotFound)
	}
	return &q, nil
}
