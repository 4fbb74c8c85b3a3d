package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store. It is not durable and is meant for
// tests and throwaway simulations.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	trades   map[string][]domain.TradeRecord // user -> records in append order
	accounts map[string]domain.Account
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:   make(map[string][]domain.TradeRecord),
		accounts: make(map[string]domain.Account),
	}
}

// Append stores rec and assigns it the next sequence number.
func (s *MemoryStore) Append(_ context.Context, rec domain.TradeRecord) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec), nil
}

// AppendGuarded re-checks the floors against the stored records while holding
// the write lock.
func (s *MemoryStore) AppendGuarded(_ context.Context, rec domain.TradeRecord, initialCash decimal.Decimal) (int64, error) {
	if err := rec.Check(); err != nil {
		return 0, fmt.Errorf("appending trade: %w: %w", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	flow := decimal.Zero
	var position int64
	for _, r := range s.trades[rec.UserID] {
		flow = flow.Add(r.Total())
		if r.Symbol == rec.Symbol {
			position += r.Shares
		}
	}
	if err := checkFloors(rec, initialCash, flow, position); err != nil {
		return 0, err
	}
	return s.appendLocked(rec), nil
}

func (s *MemoryStore) appendLocked(rec domain.TradeRecord) int64 {
	s.seq++
	rec.Seq = s.seq
	s.trades[rec.UserID] = append(s.trades[rec.UserID], rec)
	return rec.Seq
}

// ListByUser returns a copy of the user's records.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	return s.ListByUserSince(ctx, userID, 0)
}

// ListByUserSince returns a copy of the user's records after afterSeq.
func (s *MemoryStore) ListByUserSince(_ context.Context, userID string, afterSeq int64) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeRecord
	for _, r := range s.trades[userID] {
		if r.Seq > afterSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateAccount registers userID with initialCash.
func (s *MemoryStore) CreateAccount(_ context.Context, userID string, initialCash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; ok {
		return fmt.Errorf("%w: %q", domain.ErrAccountExists, userID)
	}
	s.accounts[userID] = domain.Account{UserID: userID, InitialCash: initialCash, CreatedAt: time.Now().UTC()}
	return nil
}

// InitialCash returns the user's initial cash.
func (s *MemoryStore) InitialCash(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrUnknownAccount, userID)
	}
	return acct.InitialCash, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
