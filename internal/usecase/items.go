package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/metrics"
	"SpectrumRanker/internal/ports"
)

// ErrItemNotFound is returned when the item does not exist.
var ErrItemNotFound = errors.New("item not found")

// Items is the write path for item mutations. Every ranking-relevant change
// goes through the repository's UpdateItem, which drops stale positions.
type Items struct {
	repo    ports.ItemRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewItems wires the item use case.
func NewItems(repo ports.ItemRepository, m *metrics.Metrics, logger *slog.Logger) *Items {
	if logger == nil {
		logger = slog.Default()
	}
	return &Items{repo: repo, metrics: m, logger: logger.With("component", "items")}
}

// Get returns one item.
func (s *Items) Get(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Item{}, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return item, err
}

// Create stores a new item.
func (s *Items) Create(ctx context.Context, item domain.Item) (domain.Item, error) {
	return s.repo.CreateItem(ctx, item)
}

// Patch applies patch to the item.
func (s *Items) Patch(ctx context.Context, id domain.ItemID, patch domain.ItemPatch) (domain.ItemUpdate, error) {
	return s.Update(ctx, id, func(item *domain.Item) error {
		patch.Apply(item)
		return nil
	})
}

// Update runs mutate against the persisted item in one transaction.
func (s *Items) Update(ctx context.Context, id domain.ItemID, mutate func(*domain.Item) error) (domain.ItemUpdate, error) {
	update, err := s.repo.UpdateItem(ctx, id, mutate)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ItemUpdate{}, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	if err != nil {
		return domain.ItemUpdate{}, err
	}

	if update.Invalidated > 0 {
		s.metrics.ObserveInvalidation(update.Invalidated)
		s.logger.Info("item context changed, positions dropped",
			"item_id", id, "fields", update.Changed, "nodes", update.Invalidated)
	}
	return update, nil
}

// Delete removes the item and repairs every list it was in.
func (s *Items) Delete(ctx context.Context, id domain.ItemID) error {
	err := s.repo.DeleteItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return err
}
