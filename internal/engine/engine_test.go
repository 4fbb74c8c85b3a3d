package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

type staticQuotes map[string]decimal.Decimal

func (s staticQuotes) Lookup(_ context.Context, symbol string) (*domain.Quote, error) {
	p, ok := s[symbol]
	if !ok {
		return nil, errors.New("no such symbol")
	}
	return &domain.Quote{Symbol: symbol, Name: symbol + " Inc.", Price: p}, nil
}

// plainLedger hides AppendGuarded so only the engine's user lock protects
// the check-then-append window.
type plainLedger struct {
	store.Ledger
}

// failingLedger accepts reads but fails every append.
type failingLedger struct {
	*store.MemoryStore
	appends int
}

func (f *failingLedger) Append(context.Context, domain.TradeRecord) (int64, error) {
	f.appends++
	return 0, errors.New("disk full")
}

func (f *failingLedger) AppendGuarded(context.Context, domain.TradeRecord, decimal.Decimal) (int64, error) {
	f.appends++
	return 0, errors.New("disk full")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TradeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func newTestEngine(t *testing.T, ledger store.Ledger, accounts store.AccountStore) *Engine {
	t.Helper()
	e := NewEngine(ledger, accounts, staticQuotes{
		"X":    decimal.NewFromInt(50),
		"AAPL": decimal.RequireFromString("187.25"),
	}, nil)
	require.NoError(t, accounts.CreateAccount(context.Background(), "alice", decimal.NewFromInt(10000)))
	return e
}

func quoteAt(symbol string, price int64) *domain.Quote {
	return &domain.Quote{Symbol: symbol, Price: decimal.NewFromInt(price)}
}

func buy(symbol string, shares int64) domain.TradeRequest {
	return domain.TradeRequest{UserID: "alice", Symbol: symbol, Shares: shares, Side: domain.SideBuy}
}

func sell(symbol string, shares int64) domain.TradeRequest {
	return domain.TradeRequest{UserID: "alice", Symbol: symbol, Shares: shares, Side: domain.SideSell}
}

func TestLedgerScenarios(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	// A: buy 10 @ 50.
	res, err := e.ProposeTrade(ctx, buy("X", 10), quoteAt("X", 50))
	require.NoError(t, err)
	require.True(t, res.Committed())
	assert.Equal(t, int64(10), res.Record.Shares)
	assert.NotEmpty(t, res.Record.ID)
	assert.NotZero(t, res.Record.Seq)

	cash, err := e.AvailableCash(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(9500)), "cash = %s", cash)
	n, err := e.NetShares(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	// B: sell 15 with only 10 held.
	res, err = e.ProposeTrade(ctx, sell("X", 15), quoteAt("X", 50))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeRejected, res.Status)
	assert.Equal(t, domain.ReasonInsufficientShares, res.Reason)

	// C: buy far beyond available cash.
	res, err = e.ProposeTrade(ctx, buy("X", 1_000_000), quoteAt("X", 50))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInsufficientFunds, res.Reason)
	assert.ErrorIs(t, res.Err(), domain.ErrInsufficientFunds)

	trades, err := e.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 1, "rejections must not append")

	// D: sell exactly the held amount @ 60.
	res, err = e.ProposeTrade(ctx, sell("X", 10), quoteAt("X", 60))
	require.NoError(t, err)
	require.True(t, res.Committed())
	assert.Equal(t, int64(-10), res.Record.Shares)

	n, err = e.NetShares(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Zero(t, n)
	cash, err = e.AvailableCash(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(10100)), "cash = %s", cash)
}

func TestConcurrentBuysSameUser(t *testing.T) {
	ledgers := map[string]func() (store.Ledger, store.AccountStore){
		"guarded": func() (store.Ledger, store.AccountStore) {
			ms := store.NewMemoryStore()
			return ms, ms
		},
		"user lock only": func() (store.Ledger, store.AccountStore) {
			ms := store.NewMemoryStore()
			return plainLedger{ms}, ms
		},
	}
	for name, mk := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger, accounts := mk()
			e := newTestEngine(t, ledger, accounts)

			// Each buy costs 7500 of 10000.
			var wg sync.WaitGroup
			results := make([]domain.TradeResult, 2)
			start := make(chan struct{})
			for i := range results {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := e.ProposeTrade(ctx, buy("X", 150), quoteAt("X", 50))
					assert.NoError(t, err)
					results[i] = res
				}()
			}
			close(start)
			wg.Wait()

			committed, rejected := 0, 0
			for _, r := range results {
				if r.Committed() {
					committed++
				} else if r.Reason == domain.ReasonInsufficientFunds {
					rejected++
				}
			}
			assert.Equal(t, 1, committed)
			assert.Equal(t, 1, rejected)

			cash, err := e.AvailableCash(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, cash.Equal(decimal.NewFromInt(2500)), "cash = %s", cash)
		})
	}
}

func TestProposeTradeRejectionOrder(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	tests := []struct {
		name  string
		req   domain.TradeRequest
		quote *domain.Quote
		want  domain.RejectReason
	}{
		{"zero shares with no quote", domain.TradeRequest{UserID: "alice", Symbol: "X", Side: domain.SideBuy}, nil, domain.ReasonInvalidQuantity},
		{"negative shares", domain.TradeRequest{UserID: "alice", Symbol: "X", Shares: -1, Side: domain.SideSell}, quoteAt("X", 50), domain.ReasonInvalidQuantity},
		{"zero shares bad side", domain.TradeRequest{UserID: "alice", Symbol: "X", Side: "hold"}, nil, domain.ReasonInvalidQuantity},
		{"bad side", domain.TradeRequest{UserID: "alice", Symbol: "X", Shares: 1, Side: "short"}, nil, domain.ReasonInvalidSide},
		{"nil quote", buy("X", 1), nil, domain.ReasonSymbolNotFound},
		{"quote for other symbol", buy("X", 1), quoteAt("Y", 50), domain.ReasonSymbolNotFound},
		{"zero price", buy("X", 1), quoteAt("X", 0), domain.ReasonSymbolNotFound},
		{"funds", buy("X", 201), quoteAt("X", 50), domain.ReasonInsufficientFunds},
		{"shares", sell("X", 1), quoteAt("X", 50), domain.ReasonInsufficientShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ProposeTrade(ctx, tt.req, tt.quote)
			require.NoError(t, err)
			assert.Equal(t, domain.TradeRejected, res.Status)
			assert.Equal(t, tt.want, res.Reason)
		})
	}

	trades, err := e.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBuyExactlyAvailableCash(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	res, err := e.ProposeTrade(ctx, buy("X", 200), quoteAt("X", 50))
	require.NoError(t, err)
	require.True(t, res.Committed())

	cash, err := e.AvailableCash(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, cash.IsZero())

	res, err = e.ProposeTrade(ctx, buy("X", 1), quoteAt("X", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInsufficientFunds, res.Reason)
}

func TestBuyCannotOverflowPosition(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)
	tiny := &domain.Quote{Symbol: "X", Price: decimal.New(1, -18)}

	res, err := e.ProposeTrade(ctx, buy("X", math.MaxInt64), tiny)
	require.NoError(t, err)
	require.True(t, res.Committed())

	res, err = e.ProposeTrade(ctx, buy("X", math.MaxInt64), tiny)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidQuantity, res.Reason)
	res, err = e.ProposeTrade(ctx, buy("X", 1), tiny)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidQuantity, res.Reason)

	n, err := e.NetShares(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n)
	trades, err := e.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	// Selling keeps working from the maximum position.
	res, err = e.ProposeTrade(ctx, sell("X", math.MaxInt64), tiny)
	require.NoError(t, err)
	assert.True(t, res.Committed())
}

func TestGuardedAppendRejectsPositionOverflow(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateAccount(ctx, "alice", decimal.NewFromInt(10000)))
	rec := domain.TradeRecord{ID: "a", UserID: "alice", Symbol: "X", Shares: math.MaxInt64, Price: decimal.New(1, -18), Timestamp: time.Now()}
	_, err := ms.AppendGuarded(ctx, rec, decimal.NewFromInt(10000))
	require.NoError(t, err)

	rec.ID, rec.Shares = "b", 1
	_, err = ms.AppendGuarded(ctx, rec, decimal.NewFromInt(10000))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestProposeTradeStorageFailure(t *testing.T) {
	ctx := context.Background()
	fl := &failingLedger{MemoryStore: store.NewMemoryStore()}
	e := newTestEngine(t, fl, fl)

	_, err := e.ProposeTrade(ctx, buy("X", 1), quoteAt("X", 50))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 1, fl.appends, "storage errors are not retried")

	trades, err := e.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestProposeTradeUnknownAccount(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := NewEngine(ms, ms, nil, nil)

	req := buy("X", 1)
	req.UserID = "ghost"
	_, err := e.ProposeTrade(ctx, req, quoteAt("X", 1))
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}

func TestTradeUsesQuoteProvider(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	res, err := e.Trade(ctx, buy("aapl", 2))
	require.NoError(t, err)
	require.True(t, res.Committed())
	assert.Equal(t, "AAPL", res.Record.Symbol)
	assert.Equal(t, "AAPL Inc.", res.Record.Name)
	assert.True(t, res.Record.Price.Equal(decimal.RequireFromString("187.25")))

	res, err = e.Trade(ctx, buy("NOPE", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonSymbolNotFound, res.Reason)

	res, err = e.Trade(ctx, buy("NOPE", 0))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidQuantity, res.Reason)
}

func TestTimestampsAreMonotonicPerUser(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return t0 }
	res, err := e.ProposeTrade(ctx, buy("X", 1), quoteAt("X", 50))
	require.NoError(t, err)
	require.True(t, res.Committed())

	e.Now = func() time.Time { return t0.Add(-time.Hour) }
	res, err = e.ProposeTrade(ctx, buy("X", 1), quoteAt("X", 50))
	require.NoError(t, err)
	require.True(t, res.Committed())
	assert.True(t, res.Record.Timestamp.Equal(t0))
}

func TestPublisherReceivesCommittedTrades(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)
	pub := &recordingPublisher{}
	e.SetPublisher(pub)

	_, err := e.ProposeTrade(ctx, buy("X", 1), quoteAt("X", 50))
	require.NoError(t, err)
	_, err = e.ProposeTrade(ctx, sell("X", 5), quoteAt("X", 50))
	require.NoError(t, err)
	e.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, "trade", pub.events[0].Type)
	assert.Equal(t, int64(1), pub.events[0].Record.Shares)
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := NewEngine(ms, ms, nil, nil)

	acct, err := e.OpenAccount(ctx, "bob", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, acct.InitialCash.Equal(DefaultInitialCash))

	_, err = e.OpenAccount(ctx, "bob", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = e.OpenAccount(ctx, "", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.OpenAccount(ctx, "carol", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for _, id := range []string{"b/alice", "..", "."} {
		_, err = e.OpenAccount(ctx, id, decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "user %q", id)
	}

	cash, err := e.AvailableCash(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(10000)))
}

func TestPortfolioAndHistory(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, ms)

	_, err := e.ProposeTrade(ctx, buy("X", 10), quoteAt("X", 40))
	require.NoError(t, err)
	_, err = e.ProposeTrade(ctx, sell("X", 4), quoteAt("X", 45))
	require.NoError(t, err)
	_, err = e.ProposeTrade(ctx, buy("GONE", 2), quoteAt("GONE", 10))
	require.NoError(t, err)

	p, err := e.Portfolio(ctx, "alice")
	require.NoError(t, err)
	// 10000 - 400 + 180 - 20
	assert.True(t, p.Cash.Equal(decimal.NewFromInt(9760)), "cash = %s", p.Cash)
	require.Len(t, p.Holdings, 2)

	gone, x := p.Holdings[0], p.Holdings[1]
	assert.Equal(t, "GONE", gone.Symbol)
	assert.True(t, gone.Stale)
	assert.True(t, gone.MarketValue.IsZero())

	assert.Equal(t, "X", x.Symbol)
	assert.Equal(t, int64(6), x.Shares)
	assert.True(t, x.Cost.Equal(decimal.NewFromInt(220)))
	assert.True(t, x.CurrentPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, x.MarketValue.Equal(decimal.NewFromInt(300)))
	assert.True(t, p.GrandTotal.Equal(decimal.NewFromInt(10060)))

	h, err := e.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, h.Entries, 3)
	assert.Equal(t, "Buy", h.Entries[0].Type)
	assert.True(t, h.Entries[0].CashAfter.Equal(decimal.NewFromInt(9600)))
	assert.Equal(t, "Sell", h.Entries[1].Type)
	assert.Equal(t, int64(4), h.Entries[1].Shares)
	assert.True(t, h.Entries[1].Total.Equal(decimal.NewFromInt(180)))
	assert.True(t, h.Entries[1].CashAfter.Equal(decimal.NewFromInt(9780)))
	assert.True(t, h.Cash.Equal(p.Cash))
}

func TestQuoteNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	e := NewEngine(ms, ms, staticQuotes{"X": decimal.NewFromInt(1)}, nil)

	q, err := e.Quote(context.Background(), " x ")
	require.NoError(t, err)
	assert.Equal(t, "X", q.Symbol)

	_, err = e.Quote(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, domain.ErrSymbolNotFound)
	_, err = e.Quote(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrSymbolNotFound)
}

func TestLockTableReleasesEntries(t *testing.T) {
	lt := newLockTable()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lt.Lock("alice")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, lt.size())
}
