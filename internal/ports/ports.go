package ports

import (
	"context"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/spectrum"
)

// ItemRepository persists items. UpdateItem is the single write path for
// ranking-relevant fields and invalidates positions when the context changes.
type ItemRepository interface {
	GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)
	UpdateItem(ctx context.Context, id domain.ItemID, mutate func(*domain.Item) error) (domain.ItemUpdate, error)
	DeleteItem(ctx context.Context, id domain.ItemID) error
	ItemsInScope(ctx context.Context, scope domain.Scope) ([]domain.Item, error)
}

// CriterionRepository persists criteria and their statement versions.
type CriterionRepository interface {
	GetCriterion(ctx context.Context, id domain.CriterionID) (domain.Criterion, error)
	CreateCriterion(ctx context.Context, name, statement string) (domain.Criterion, error)
	UpdateCriterionStatement(ctx context.Context, id domain.CriterionID, statement string) (domain.Criterion, error)
}

// ContainerRepository persists containers.
type ContainerRepository interface {
	GetContainer(ctx context.Context, id domain.ContainerID) (domain.Container, error)
	CreateContainer(ctx context.Context, name string, parent domain.ContainerID) (domain.Container, error)
}

// SpectrumStore persists ranked lists as linked node rows.
type SpectrumStore interface {
	FindList(ctx context.Context, key domain.ListKey) (domain.RankedList, bool, error)
	GetList(ctx context.Context, id domain.ListID) (domain.RankedList, error)
	CreateList(ctx context.Context, key domain.ListKey, first domain.Item) (domain.RankedList, error)
	// Chain reads an unlocked snapshot of the list.
	Chain(ctx context.Context, id domain.ListID) (*spectrum.Chain, error)
	// Splice inserts item into the gap pos, which must still be adjacent.
	// snapshot is the item as it was when pos was computed.
	Splice(ctx context.Context, id domain.ListID, snapshot domain.Item, pos spectrum.Position) (domain.Node, error)
	DeleteNode(ctx context.Context, id domain.NodeID) error
	// Rebuild relinks the list in the given order. expected is the chain the
	// order was computed from; any concurrent change fails with ErrStalePosition.
	Rebuild(ctx context.Context, id domain.ListID, expected *spectrum.Chain, ordered []domain.Item) error
	UnrankedItems(ctx context.Context, id domain.ListID) ([]domain.Item, error)
}

// ComparisonRepository persists comparison records.
type ComparisonRepository interface {
	LatestHuman(ctx context.Context, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error)
	Latest(ctx context.Context, model string, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error)
	SaveComparison(ctx context.Context, record domain.ComparisonRecord) (domain.ComparisonRecord, error)
	// Decisions returns the most recent record per key for model.
	Decisions(ctx context.Context, model string) ([]domain.ComparisonRecord, error)
}

// ChatCompleter sends one prompt to a chat-completion model.
type ChatCompleter interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ZeroShotResult lists candidate labels best first.
type ZeroShotResult struct {
	Labels []string
	Scores []float64
}

// ZeroShotClassifier scores candidate labels for a sequence.
type ZeroShotClassifier interface {
	Classify(ctx context.Context, model, sequence string, labels []string) (ZeroShotResult, error)
}

// Notifier publishes run reports to Telegram or other channels.
type Notifier interface {
	Publish(ctx context.Context, text string) error
}

// Scheduler runs jobs on cron expressions.
type Scheduler interface {
	Schedule(spec string, job func(ctx context.Context)) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
