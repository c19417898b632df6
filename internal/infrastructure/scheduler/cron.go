package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"SpectrumRanker/internal/ports"
)

// CronScheduler runs jobs on standard five-field cron expressions.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating expressions in loc. A job
// still running when its next tick arrives is skipped.
func NewCronScheduler(loc *time.Location, logger *log.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cron.DiscardLogger
	if logger != nil {
		cl = cron.PrintfLogger(logger)
	}
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: context.Background(),
	}
}

// Schedule registers job under spec. Jobs receive the context passed to Start.
func (c *CronScheduler) Schedule(spec string, job func(ctx context.Context)) error {
	if job == nil {
		return fmt.Errorf("schedule %q: nil job", spec)
	}
	if _, err := c.cron.AddFunc(spec, func() { job(c.jobContext()) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Len returns the number of registered jobs.
func (c *CronScheduler) Len() int { return len(c.cron.Entries()) }

// Start begins firing jobs until ctx is done or Stop is called.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs or ctx, whichever ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.cron.Stop()
	c.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronScheduler) jobContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}
