package usecase

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/infrastructure/storage"
	"SpectrumRanker/internal/memo"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/retry"
	"SpectrumRanker/internal/spectrum"
)

const numericModel = "numeric"

// numeric ranks larger numbers ahead. Statements that are not numbers compare as zero.
type numeric struct {
	calls      atomic.Int32
	fail       map[string]bool
	block      bool
	blockAfter int32
}

func (n *numeric) Model() string { return numericModel }

func (n *numeric) Compare(ctx context.Context, q comparator.Question) (comparator.Verdict, error) {
	call := n.calls.Add(1)
	if n.block || (n.blockAfter > 0 && call > n.blockAfter) {
		<-ctx.Done()
		return comparator.Verdict{}, ctx.Err()
	}
	if n.fail[q.Left.Text] || n.fail[q.Right.Text] {
		return comparator.Verdict{}, &comparator.InvalidResponseError{Model: numericModel, Reason: "unreadable"}
	}
	l, _ := strconv.Atoi(q.Left.Text)
	r, _ := strconv.Atoi(q.Right.Text)
	return comparator.Verdict{LeftWins: l > r, Response: q.Left.Text + " vs " + q.Right.Text}, nil
}

type env struct {
	repo      *storage.Repository
	container domain.Container
	criterion domain.Criterion
	cmp       *numeric
	registry  *comparator.Registry
	gateway   *comparator.Gateway
	logger    *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.SQLite, filepath.Join(t.TempDir(), "spectrum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repo := storage.NewRepository(db)

	container, err := repo.CreateContainer(ctx, "inbox", 0)
	require.NoError(t, err)
	criterion, err := repo.CreateCriterion(ctx, "priority", "is the larger number")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cmp := &numeric{}
	return &env{
		repo:      repo,
		container: container,
		criterion: criterion,
		cmp:       cmp,
		registry:  comparator.NewRegistry(cmp),
		gateway:   comparator.NewGateway(memo.New(repo), comparator.GatewayConfig{Retry: retry.Policy{MaxAttempts: 1}}, nil, logger),
		logger:    logger,
	}
}

func (e *env) items(t *testing.T, statements ...string) []domain.Item {
	t.Helper()

	out := make([]domain.Item, 0, len(statements))
	for _, s := range statements {
		item, err := e.repo.CreateItem(context.Background(), domain.Item{Statement: s, Actionable: true, ContainerID: e.container.ID})
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func (e *env) key() domain.ListKey {
	return domain.ListKey{
		CriterionVersion: e.criterion.VersionID,
		Model:            numericModel,
		Scope:            domain.Scope{ContainerID: e.container.ID},
	}
}

// list builds the list from items in order, head first.
func (e *env) list(t *testing.T, items ...domain.Item) domain.RankedList {
	t.Helper()

	ctx := context.Background()
	list, err := e.repo.CreateList(ctx, e.key(), items[0])
	require.NoError(t, err)
	for _, item := range items[1:] {
		chain, err := e.repo.Chain(ctx, list.ID)
		require.NoError(t, err)
		_, err = e.repo.Splice(ctx, list.ID, item, spectrum.Position{Prev: chain.Tail()})
		require.NoError(t, err)
	}
	return list
}

func (e *env) order(t *testing.T, list domain.ListID) []string {
	t.Helper()

	chain, err := e.repo.Chain(context.Background(), list)
	require.NoError(t, err)
	var out []string
	for _, n := range chain.Nodes() {
		out = append(out, n.Item.Statement)
	}
	return out
}

func (e *env) ranker(store ports.SpectrumStore, cfg RankerConfig, notifier ports.Notifier) *Ranker {
	if store == nil {
		store = e.repo
	}
	if cfg.MaxSpliceAttempts == 0 {
		cfg.MaxSpliceAttempts = 3
	}
	return NewRanker(RankerDeps{
		Items:      e.repo,
		Criteria:   e.repo,
		Containers: e.repo,
		Store:      store,
		Registry:   e.registry,
		Gateway:    e.gateway,
		Notifier:   notifier,
		Logger:     e.logger,
		Config:     cfg,
		Rand:       rand.New(rand.NewPCG(7, 11)),
	})
}

func (e *env) request() RankRequest {
	return RankRequest{ContainerID: e.container.ID, CriterionID: e.criterion.ID, Model: numericModel}
}
