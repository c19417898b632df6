package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/ports"
)

var errItemMoved = errors.New("item statement changed during classification")

// ClassifyRequest selects the items to reclassify.
type ClassifyRequest struct {
	ContainerID     domain.ContainerID
	Model           string
	IncludeDone     bool
	IncludeArchived bool
	ForceRecompute  bool
}

// ClassifyReport counts classification outcomes.
type ClassifyReport struct {
	Examined    int
	Changed     int
	Skipped     int
	Failed      int
	Invalidated int
}

// ClassifierDeps wires the classifier.
type ClassifierDeps struct {
	Items      *Items
	Scope      ports.ItemRepository
	Criteria   ports.CriterionRepository
	Containers ports.ContainerRepository
	Registry   *comparator.Registry
	Gateway    *comparator.Gateway
	Logger     *slog.Logger
	// Actionable and NonActionable are the two criteria items are judged between.
	Actionable    domain.CriterionID
	NonActionable domain.CriterionID
}

// Classifier decides for each item whether it is actionable by asking which
// of two criteria the item satisfies better.
type Classifier struct {
	deps   ClassifierDeps
	logger *slog.Logger
}

// NewClassifier constructs the classification use case.
func NewClassifier(deps ClassifierDeps) *Classifier {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{deps: deps, logger: logger.With("component", "classifier")}
}

// Classify judges every item in scope and writes changed flags through the
// item write path, so ranked positions of reclassified items are dropped.
func (c *Classifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyReport, error) {
	var report ClassifyReport

	if req.ContainerID != 0 {
		if _, err := c.deps.Containers.GetContainer(ctx, req.ContainerID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return report, fmt.Errorf("%w: container %d", ErrScopeNotFound, req.ContainerID)
			}
			return report, fmt.Errorf("load container: %w", err)
		}
	}
	yes, err := c.criterion(ctx, c.deps.Actionable)
	if err != nil {
		return report, err
	}
	no, err := c.criterion(ctx, c.deps.NonActionable)
	if err != nil {
		return report, err
	}
	cmp, err := c.deps.Registry.Resolve(req.Model)
	if err != nil {
		return report, err
	}

	items, err := c.deps.Scope.ItemsInScope(ctx, domain.Scope{
		ContainerID:     req.ContainerID,
		IncludeDone:     req.IncludeDone,
		IncludeArchived: req.IncludeArchived,
	})
	if err != nil {
		return report, fmt.Errorf("items in scope: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++

		v, err := c.deps.Gateway.Compare(ctx, cmp, comparator.Question{
			Subject: item.Operand(),
			Left:    yes.Operand(),
			Right:   no.Operand(),
		}, req.ForceRecompute)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			c.logger.Warn("item not classified", "item_id", item.ID, "model", cmp.Model(), "error", err)
			continue
		}
		if v.LeftWins == item.Actionable {
			continue
		}

		version := item.VersionID
		update, err := c.deps.Items.Update(ctx, item.ID, func(it *domain.Item) error {
			if it.VersionID != version {
				return errItemMoved
			}
			it.Actionable = v.LeftWins
			return nil
		})
		switch {
		case errors.Is(err, errItemMoved), errors.Is(err, ErrItemNotFound):
			report.Skipped++
		case err != nil:
			return report, fmt.Errorf("update item %d: %w", item.ID, err)
		default:
			report.Changed++
			report.Invalidated += update.Invalidated
		}
	}

	c.logger.Info("classification finished",
		"model", cmp.Model(),
		"examined", report.Examined,
		"changed", report.Changed,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

func (c *Classifier) criterion(ctx context.Context, id domain.CriterionID) (domain.Criterion, error) {
	if id == 0 {
		return domain.Criterion{}, fmt.Errorf("%w: classification criteria not configured", ErrCriterionNotFound)
	}
	crit, err := c.deps.Criteria.GetCriterion(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Criterion{}, fmt.Errorf("%w: %d", ErrCriterionNotFound, id)
	}
	return crit, err
}
