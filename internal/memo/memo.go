// Package memo remembers comparison outcomes keyed by model and statement versions.
package memo

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/ports"
)

// Request identifies one judgment. The versions must be the operands' current ones.
type Request struct {
	Model          string
	Key            domain.ComparisonKey
	ForceRecompute bool
}

// Outcome is what a compute function returns.
type Outcome struct {
	LeftWins bool
	Response string
}

// Result is a record and whether it came from storage.
type Result struct {
	Record domain.ComparisonRecord
	Cached bool
}

// Compute produces a fresh outcome.
type Compute func(ctx context.Context) (Outcome, error)

// Cache is the comparison memo backed by a ComparisonRepository.
type Cache struct {
	repo  ports.ComparisonRepository
	group singleflight.Group
	now   func() time.Time
}

// New builds a cache over repo.
func New(repo ports.ComparisonRepository) *Cache {
	return &Cache{repo: repo, now: time.Now}
}

// GetOrCompute returns the human record for the key if there is one, then the
// latest record for the model unless ForceRecompute is set, and otherwise
// computes, persists and returns a new record.
func (c *Cache) GetOrCompute(ctx context.Context, req Request, compute Compute) (Result, error) {
	human, ok, err := c.repo.LatestHuman(ctx, req.Key)
	if err != nil {
		return Result{}, fmt.Errorf("lookup human comparison: %w", err)
	}
	if ok {
		return Result{Record: human, Cached: true}, nil
	}

	if !req.ForceRecompute {
		rec, ok, err := c.repo.Latest(ctx, req.Model, req.Key)
		if err != nil {
			return Result{}, fmt.Errorf("lookup comparison: %w", err)
		}
		if ok {
			return Result{Record: rec, Cached: true}, nil
		}
	}

	v, err, _ := c.group.Do(flightKey(req), func() (any, error) {
		// A flight that finished between the lookup above and this one already stored the record.
		if !req.ForceRecompute {
			rec, ok, err := c.repo.Latest(ctx, req.Model, req.Key)
			if err != nil {
				return nil, fmt.Errorf("lookup comparison: %w", err)
			}
			if ok {
				return Result{Record: rec, Cached: true}, nil
			}
		}

		started := c.now()
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		rec, err := c.save(ctx, domain.ComparisonRecord{
			Model:    req.Model,
			Key:      req.Key,
			LeftWins: out.LeftWins,
			Response: out.Response,
			Latency:  c.now().Sub(started),
			Human:    req.Model == domain.HumanModel,
		})
		if err != nil {
			return nil, err
		}
		return Result{Record: rec}, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// RecordHuman stores an authoritative human verdict for key.
func (c *Cache) RecordHuman(ctx context.Context, key domain.ComparisonKey, leftWins bool, response string) (domain.ComparisonRecord, error) {
	return c.save(ctx, domain.ComparisonRecord{
		Model:    domain.HumanModel,
		Key:      key,
		LeftWins: leftWins,
		Response: response,
		Human:    true,
	})
}

func (c *Cache) save(ctx context.Context, rec domain.ComparisonRecord) (domain.ComparisonRecord, error) {
	rec.CreatedAt = c.now()
	saved, err := c.repo.SaveComparison(ctx, rec)
	if err != nil {
		return domain.ComparisonRecord{}, fmt.Errorf("save comparison: %w", err)
	}
	return saved, nil
}

func flightKey(req Request) string {
	return fmt.Sprintf("%s|%d|%d|%d|%t", req.Model, req.Key.Subject, req.Key.Left, req.Key.Right, req.ForceRecompute)
}
