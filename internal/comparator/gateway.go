package comparator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/memo"
	"SpectrumRanker/internal/metrics"
	"SpectrumRanker/internal/retry"
)

// GatewayConfig tunes how comparator calls are throttled and retried.
type GatewayConfig struct {
	Retry retry.Policy
	// RequestsPerSecond caps calls per model; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	// AttemptTimeout bounds a single call; zero leaves it to the backend.
	AttemptTimeout time.Duration
}

// Gateway is the single entry point for comparisons. It consults the memo
// first and only then calls the comparator, throttled and retried.
type Gateway struct {
	cache   *memo.Cache
	cfg     GatewayConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGateway builds a gateway over cache.
func NewGateway(cache *memo.Cache, cfg GatewayConfig, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "comparator_gateway"),
		limiters: map[string]*rate.Limiter{},
	}
}

// Compare answers q with c. When force is set, machine records are ignored;
// a human record for the same versions is returned regardless.
func (g *Gateway) Compare(ctx context.Context, c Comparator, q Question, force bool) (Verdict, error) {
	model := c.Model()
	started := time.Now()

	res, err := g.cache.GetOrCompute(ctx, memo.Request{Model: model, Key: q.Key(), ForceRecompute: force}, func(ctx context.Context) (memo.Outcome, error) {
		v, err := retry.Do(ctx, g.policyFor(model), IsRetryable, func(ctx context.Context) (Verdict, error) {
			return g.attempt(ctx, c, q)
		}, func(attempt int, err error, wait time.Duration) {
			g.metrics.ObserveRetry(model)
			g.logger.Warn("comparison failed, retrying", "model", model, "attempt", attempt, "wait", wait, "error", err)
		})
		return memo.Outcome{LeftWins: v.LeftWins, Response: v.Response}, err
	})
	if err != nil {
		g.metrics.ObserveComparison(model, "error", 0)
		return Verdict{}, err
	}

	source := "computed"
	if res.Cached {
		source = "cached"
	}
	g.metrics.ObserveComparison(model, source, time.Since(started).Seconds())
	return Verdict{LeftWins: res.Record.LeftWins, Response: res.Record.Response}, nil
}

func (g *Gateway) attempt(ctx context.Context, c Comparator, q Question) (Verdict, error) {
	if err := g.limiter(c.Model()).Wait(ctx); err != nil {
		return Verdict{}, err
	}

	callCtx := ctx
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}

	v, err := c.Compare(callCtx, q)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			err = &TimeoutError{Model: c.Model(), Err: err}
		}
	}
	return v, err
}

func (g *Gateway) policyFor(model string) retry.Policy {
	if model == domain.HumanModel {
		return retry.Policy{MaxAttempts: 1}
	}
	return g.cfg.Retry
}

func (g *Gateway) limiter(model string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[model]; ok {
		return l
	}
	limit, burst := rate.Inf, g.cfg.Burst
	if g.cfg.RequestsPerSecond > 0 && model != domain.HumanModel {
		limit = rate.Limit(g.cfg.RequestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(limit, burst)
	g.limiters[model] = l
	return l
}
