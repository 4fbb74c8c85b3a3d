package quote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
)

// countingProvider fails the first failures calls and counts every call.
type countingProvider struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Lookup(_ context.Context, symbol string) (*domain.Quote, error) {
	n := p.calls.Add(1)
	if n <= p.failures {
		return nil, p.err
	}
	return &domain.Quote{Symbol: symbol, Name: "Counting Corp", Price: decimal.NewFromInt(int64(n))}, nil
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, "alpaca", NewAlpacaProvider("key", "secret", "https://paper-api.alpaca.markets", "", "iex").Name())
	assert.Equal(t, "simulator", NewSimulator().Name())
}

func TestAlpacaProviderRejectsEmptySymbol(t *testing.T) {
	p := NewAlpacaProvider("key", "secret", "", "", "")
	_, err := p.Lookup(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSimulatorLookup(t *testing.T) {
	s := NewSimulator()
	s.Set("aapl", "Apple Inc.", decimal.RequireFromString("187.25"))

	q, err := s.Lookup(context.Background(), " AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc.", q.Name)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("187.25")))

	// Returned quotes are copies.
	q.Price = decimal.Zero
	q2, err := s.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.False(t, q2.Price.IsZero())

	_, err = s.Lookup(context.Background(), "MSFT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedServesRepeatLookups(t *testing.T) {
	next := &countingProvider{}
	c, err := NewCached(next, 100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	q1, err := c.Lookup(context.Background(), "aapl")
	require.NoError(t, err)
	c.Wait()
	q2, err := c.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.True(t, q1.Price.Equal(q2.Price))
	assert.Equal(t, "counting", c.Name())
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	next := &countingProvider{failures: 1, err: ErrNotFound}
	c, err := NewCached(next, 100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Lookup(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNotFound)
	c.Wait()

	_, err = c.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	next := &countingProvider{failures: 2, err: errors.New("503 service unavailable")}
	r := NewResilient(next, ResilientOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)

	q, err := r.Lookup(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.calls.Load())
	assert.True(t, q.Price.Equal(decimal.NewFromInt(3)))
}

func TestResilientDoesNotRetryNotFound(t *testing.T) {
	next := &countingProvider{failures: 5, err: ErrNotFound}
	r := NewResilient(next, ResilientOptions{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)

	_, err := r.Lookup(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), next.calls.Load())
}

// slowProvider blocks until its context is done.
type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Lookup(ctx context.Context, _ string) (*domain.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResilientPerAttemptTimeout(t *testing.T) {
	r := NewResilient(slowProvider{}, ResilientOptions{
		Timeout:     10 * time.Millisecond,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}, nil)

	start := time.Now()
	_, err := r.Lookup(context.Background(), "X")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
