package quote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// Compile-time interface check.
var _ Provider = (*Resilient)(nil)

// Resilient bounds each lookup attempt with a timeout, spaces requests with
// a rate limiter and retries transient failures with exponential backoff.
// ErrNotFound is returned immediately.
type Resilient struct {
	next        Provider
	limiter     *util.RateLimiter
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger
}

// ResilientOptions configures NewResilient. Zero values pick defaults.
type ResilientOptions struct {
	Timeout     time.Duration // per attempt, default 5s
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 200ms
	PerMinute   int           // 0 disables rate limiting
	Burst       int
}

// NewResilient wraps next.
func NewResilient(next Provider, opts ResilientOptions, log *slog.Logger) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Resilient{
		next:        next,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		log:         log.With("provider", next.Name()),
	}
	if opts.PerMinute > 0 {
		r.limiter = util.NewRateLimiterBurst(opts.PerMinute, opts.Burst)
	}
	return r
}

// Name returns the wrapped provider's name.
func (r *Resilient) Name() string {
	return r.next.Name()
}

// Lookup calls the wrapped provider with retries.
func (r *Resilient) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	var q *domain.Quote
	attempt := 0
	err := util.Retry(ctx, r.maxAttempts, r.baseDelay, func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return util.Permanent(err)
			}
		}
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		res, err := r.next.Lookup(actx, symbol)
		if err != nil {
			if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				return util.Permanent(err)
			}
			r.log.Warn("quote lookup failed", "symbol", symbol, "attempt", attempt, "error", err)
			return err
		}
		q = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}
