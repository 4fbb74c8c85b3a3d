// Package engine implements the paper-trading ledger engine: it validates
// proposed trades against positions and cash derived from the append-only
// ledger, and commits accepted trades with exactly one append.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// QuoteProvider looks up a live quote for a symbol.
type QuoteProvider interface {
	Lookup(ctx context.Context, symbol string) (*domain.Quote, error)
}

// Publisher receives committed trades. Publishing is never part of the
// commit: failures are logged and dropped.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TradeEvent) error
}

// DefaultInitialCash is credited to accounts opened without an amount.
var DefaultInitialCash = decimal.NewFromInt(10000)

const publishTimeout = 5 * time.Second

// Engine orchestrates validation and commit of trades for many users. It
// serialises Validate+Append per user; different users proceed in parallel.
type Engine struct {
	ledger    store.Ledger
	accounts  store.AccountStore
	quotes    QuoteProvider
	validator *TradeValidator
	log       *slog.Logger

	// Now returns the wall clock; replaced in tests.
	Now func() time.Time
	// InitialCash is used by OpenAccount when no amount is given.
	InitialCash decimal.Decimal

	locks *lockTable

	mu   sync.Mutex
	aggs map[string]*Aggregate // user -> cached aggregate

	pubMu     sync.RWMutex
	publisher Publisher
	pubWG     sync.WaitGroup
}

// NewEngine creates a new Engine wired with the given dependencies. quotes
// may be nil, in which case Trade and Quote always report SymbolNotFound.
func NewEngine(ledger store.Ledger, accounts store.AccountStore, quotes QuoteProvider, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		ledger:      ledger,
		accounts:    accounts,
		quotes:      quotes,
		validator:   NewTradeValidator(),
		log:         log,
		Now:         time.Now,
		InitialCash: DefaultInitialCash,
		locks:       newLockTable(),
		aggs:        make(map[string]*Aggregate),
	}
}

// SetPublisher installs the post-commit publisher.
func (e *Engine) SetPublisher(p Publisher) {
	e.pubMu.Lock()
	e.publisher = p
	e.pubMu.Unlock()
}

// Close waits for in-flight publishes to finish.
func (e *Engine) Close() {
	e.pubWG.Wait()
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// ProposeTrade validates req against quote and the user's ledger and, if
// accepted, appends exactly one record. Rejections are returned in the
// result with a nil error. A failed append returns an error wrapping
// domain.ErrStorage and is not retried.
func (e *Engine) ProposeTrade(ctx context.Context, req domain.TradeRequest, quote *domain.Quote) (domain.TradeResult, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if reason := e.validator.Precheck(req); reason != "" {
		return domain.Rejected(reason), nil
	}
	if req.UserID == "" {
		return domain.TradeResult{}, fmt.Errorf("%w: empty user id", domain.ErrInvalidInput)
	}

	unlock := e.locks.Lock(req.UserID)
	defer unlock()

	initial, err := e.accounts.InitialCash(ctx, req.UserID)
	if err != nil {
		return domain.TradeResult{}, err
	}
	agg, err := e.aggregate(ctx, req.UserID)
	if err != nil {
		return domain.TradeResult{}, err
	}

	rec, reason := e.validator.Validate(req, quote, agg, initial)
	if reason != "" {
		e.log.Debug("trade rejected", "user", req.UserID, "symbol", req.Symbol, "shares", req.Shares, "side", req.Side, "reason", reason)
		return domain.Rejected(reason), nil
	}

	rec.ID = uuid.NewString()
	rec.Timestamp = e.Now().UTC()
	if rec.Timestamp.Before(agg.Last) {
		rec.Timestamp = agg.Last
	}

	seq, err := e.append(ctx, rec, initial)
	if err != nil {
		if reason, ok := domain.ReasonFor(err); ok {
			// Another writer on the same database got there first.
			e.log.Info("trade rejected by guarded append", "user", rec.UserID, "symbol", rec.Symbol, "reason", reason)
			return domain.Rejected(reason), nil
		}
		e.log.Error("trade append failed", "user", rec.UserID, "symbol", rec.Symbol, "shares", rec.Shares, "error", err)
		if !errors.Is(err, domain.ErrStorage) {
			err = fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		return domain.TradeResult{}, fmt.Errorf("committing trade: %w", err)
	}
	rec.Seq = seq

	e.log.Info("trade committed", "user", rec.UserID, "symbol", rec.Symbol, "shares", rec.Shares, "price", rec.Price.String(), "seq", seq)
	e.publish(rec)
	return domain.Committed(rec), nil
}

// Trade looks up a quote for req.Symbol and proposes the trade against it.
// Quantity and side are checked before the lookup; any lookup failure is a
// SymbolNotFound rejection.
func (e *Engine) Trade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if reason := e.validator.Precheck(req); reason != "" {
		return domain.Rejected(reason), nil
	}
	q, err := e.Quote(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrSymbolNotFound) {
			return domain.Rejected(domain.ReasonSymbolNotFound), nil
		}
		return domain.TradeResult{}, err
	}
	return e.ProposeTrade(ctx, req, q)
}

func (e *Engine) append(ctx context.Context, rec domain.TradeRecord, initial decimal.Decimal) (int64, error) {
	if g, ok := e.ledger.(store.GuardedLedger); ok {
		return g.AppendGuarded(ctx, rec, initial)
	}
	return e.ledger.Append(ctx, rec)
}

func (e *Engine) publish(rec domain.TradeRecord) {
	e.pubMu.RLock()
	p := e.publisher
	e.pubMu.RUnlock()
	if p == nil {
		return
	}

	e.pubWG.Add(1)
	go func() {
		defer e.pubWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, domain.TradeEvent{Type: "trade", Record: rec}); err != nil {
			e.log.Warn("publish trade event", "user", rec.UserID, "seq", rec.Seq, "error", err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

// aggregate returns the user's aggregate extended with every record appended
// since the cached copy. The result is private to the caller.
func (e *Engine) aggregate(ctx context.Context, userID string) (*Aggregate, error) {
	e.mu.Lock()
	cached, ok := e.aggs[userID]
	var agg *Aggregate
	if ok {
		agg = cached.Clone()
	} else {
		agg = NewAggregate()
	}
	e.mu.Unlock()

	recs, err := e.ledger.ListByUserSince(ctx, userID, agg.Seq)
	if err != nil {
		return nil, fmt.Errorf("reading ledger for %q: %w: %w", userID, domain.ErrStorage, err)
	}
	agg.Fold(recs...)

	e.mu.Lock()
	if cur, ok := e.aggs[userID]; !ok || cur.Seq < agg.Seq {
		e.aggs[userID] = agg.Clone()
	}
	e.mu.Unlock()
	return agg, nil
}

// NetShares returns the user's position in symbol, 0 if never traded.
func (e *Engine) NetShares(ctx context.Context, userID, symbol string) (int64, error) {
	agg, err := e.aggregate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return agg.NetShares(domain.NormalizeSymbol(symbol)), nil
}

// AvailableCash returns the user's initial cash minus all trade cash flows.
func (e *Engine) AvailableCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	initial, err := e.accounts.InitialCash(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	agg, err := e.aggregate(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return agg.AvailableCash(initial), nil
}

// ListTrades returns the user's trades in append order.
func (e *Engine) ListTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	recs, err := e.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing trades for %q: %w: %w", userID, domain.ErrStorage, err)
	}
	return recs, nil
}

// ---------------------------------------------------------------------------
// Accounts, quotes and views
// ---------------------------------------------------------------------------

// OpenAccount provisions userID. A zero initialCash means e.InitialCash.
func (e *Engine) OpenAccount(ctx context.Context, userID string, initialCash decimal.Decimal) (domain.Account, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.Account{}, err
	}
	if initialCash.IsNegative() {
		return domain.Account{}, fmt.Errorf("%w: negative initial cash %s", domain.ErrInvalidInput, initialCash)
	}
	if initialCash.IsZero() {
		initialCash = e.InitialCash
	}
	if err := e.accounts.CreateAccount(ctx, userID, initialCash); err != nil {
		return domain.Account{}, err
	}
	e.log.Info("account opened", "user", userID, "initial_cash", initialCash.String())
	return domain.Account{UserID: userID, InitialCash: initialCash, CreatedAt: e.Now().UTC()}, nil
}

// Quote returns the live quote for symbol or an error wrapping
// domain.ErrSymbolNotFound.
func (e *Engine) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" || e.quotes == nil {
		return nil, fmt.Errorf("quote %q: %w", symbol, domain.ErrSymbolNotFound)
	}
	q, err := e.quotes.Lookup(ctx, symbol)
	if err != nil || q == nil || !q.Price.IsPositive() {
		if err != nil {
			e.log.Debug("quote lookup failed", "symbol", symbol, "error", err)
		}
		return nil, fmt.Errorf("quote %q: %w", symbol, domain.ErrSymbolNotFound)
	}
	return q, nil
}

// Portfolio summarises the user's holdings at current prices. Symbols whose
// quote cannot be fetched are marked Stale and valued at zero.
func (e *Engine) Portfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	initial, err := e.accounts.InitialCash(ctx, userID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	recs, err := e.ListTrades(ctx, userID)
	if err != nil {
		return domain.Portfolio{}, err
	}

	type acc struct {
		name   string
		shares int64
		cost   decimal.Decimal
	}
	bySymbol := make(map[string]*acc)
	flow := decimal.Zero
	for _, r := range recs {
		a, ok := bySymbol[r.Symbol]
		if !ok {
			a = &acc{cost: decimal.Zero}
			bySymbol[r.Symbol] = a
		}
		if r.Name != "" {
			a.name = r.Name
		}
		a.shares += r.Shares
		a.cost = a.cost.Add(r.Total())
		flow = flow.Add(r.Total())
	}

	p := domain.Portfolio{UserID: userID, Cash: initial.Sub(flow), Holdings: []domain.Holding{}}
	total := p.Cash
	for sym, a := range bySymbol {
		if a.shares == 0 {
			continue
		}
		h := domain.Holding{Symbol: sym, Name: a.name, Shares: a.shares, Cost: a.cost}
		if q, err := e.Quote(ctx, sym); err == nil {
			h.CurrentPrice = q.Price
			h.MarketValue = q.Price.Mul(decimal.NewFromInt(a.shares))
			if q.Name != "" {
				h.Name = q.Name
			}
		} else {
			h.Stale = true
		}
		total = total.Add(h.MarketValue)
		p.Holdings = append(p.Holdings, h)
	}
	sort.Slice(p.Holdings, func(i, j int) bool { return p.Holdings[i].Symbol < p.Holdings[j].Symbol })
	p.GrandTotal = total
	return p, nil
}

// History returns the user's trades for display with the cash balance after
// each one.
func (e *Engine) History(ctx context.Context, userID string) (domain.History, error) {
	initial, err := e.accounts.InitialCash(ctx, userID)
	if err != nil {
		return domain.History{}, err
	}
	recs, err := e.ListTrades(ctx, userID)
	if err != nil {
		return domain.History{}, err
	}

	h := domain.History{UserID: userID, Entries: make([]domain.HistoryEntry, 0, len(recs))}
	cash := initial
	for _, r := range recs {
		cash = cash.Sub(r.Total())
		typ := "Buy"
		if r.Side() == domain.SideSell {
			typ = "Sell"
		}
		h.Entries = append(h.Entries, domain.HistoryEntry{
			Seq:       r.Seq,
			Symbol:    r.Symbol,
			Type:      typ,
			Shares:    abs(r.Shares),
			Price:     r.Price,
			Total:     r.Total().Abs(),
			CashAfter: cash,
			Timestamp: r.Timestamp,
		})
	}
	h.Cash = cash
	return h, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
