package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/spectrum"
)

func TestRunInsertsIntoExistingList(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	items := e.items(t, "75", "76", "77")
	list := e.list(t, items[0])

	report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, list.ID, report.ListID)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, []string{"77", "76", "75"}, e.order(t, list.ID))
}

func TestRunCreatesListAndOrdersScope(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.items(t, "4", "11", "7", "1", "9", "12", "3", "8", "2", "10", "6", "5")

	report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, 12, report.Inserted)
	assert.Equal(t, []string{"12", "11", "10", "9", "8", "7", "6", "5", "4", "3", "2", "1"}, e.order(t, report.ListID))

	again, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)
	assert.Equal(t, report.ListID, again.ListID)
	assert.Zero(t, again.Inserted)
	assert.Zero(t, again.Probes)
}

func TestRunEmptyScopeCompletes(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Zero(t, report.ListID)
}

func TestRunProbesLogarithmically(t *testing.T) {
	t.Parallel()

	for _, candidate := range []string{"33", "100", "0"} {
		t.Run(candidate, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			statements := make([]string, 0, 31)
			for v := 62; v >= 2; v -= 2 {
				statements = append(statements, strconv.Itoa(v))
			}
			ranked := e.items(t, statements...)
			list := e.list(t, ranked...)
			e.items(t, candidate)

			report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
			require.NoError(t, err)

			assert.Equal(t, 1, report.Inserted)
			assert.Equal(t, 5, report.Probes)
			assert.Equal(t, int32(5), e.cmp.calls.Load())

			order := e.order(t, list.ID)
			require.Len(t, order, 32)
			for i := 1; i < len(order); i++ {
				prev, _ := strconv.Atoi(order[i-1])
				cur, _ := strconv.Atoi(order[i])
				assert.Greater(t, prev, cur, "order broken at %d: %v", i, order)
			}
		})
	}
}

func TestRunMergeStrategy(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ranked := e.items(t, "90", "50", "10")
	list := e.list(t, ranked...)
	e.items(t, "70", "30", "99", "1")

	report, err := e.ranker(nil, RankerConfig{Strategy: spectrum.StrategyMerge}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, spectrum.StrategyMerge, report.Strategy)
	assert.Equal(t, 4, report.Inserted)
	assert.Equal(t, []string{"99", "90", "70", "50", "30", "10", "1"}, e.order(t, list.ID))
}

func TestRunMergeFallsBackToInsertion(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	list := e.list(t, e.items(t, "50")...)
	e.items(t, "13", "70", "20")
	e.cmp.fail = map[string]bool{"13": true}

	req := e.request()
	req.Strategy = spectrum.StrategyMerge
	report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, spectrum.StrategyInsert, report.Strategy)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"70", "50", "20"}, e.order(t, list.ID))
}

func TestRunLeavesUnjudgeableItemsUnranked(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	list := e.list(t, e.items(t, "50")...)
	e.items(t, "13", "70", "20")
	e.cmp.fail = map[string]bool{"13": true}

	report, err := e.ranker(nil, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"70", "50", "20"}, e.order(t, list.ID))

	unranked, err := e.repo.UnrankedItems(context.Background(), list.ID)
	require.NoError(t, err)
	require.Len(t, unranked, 1)
	assert.Equal(t, "13", unranked[0].Statement)
}

// intruding splices another item into the same gap right before the first
// splice of the run, so the run's position goes stale.
type intruding struct {
	ports.SpectrumStore
	once     sync.Once
	intruder domain.Item
}

func (s *intruding) Splice(ctx context.Context, id domain.ListID, item domain.Item, pos spectrum.Position) (domain.Node, error) {
	var err error
	s.once.Do(func() { _, err = s.SpectrumStore.Splice(ctx, id, s.intruder, pos) })
	if err != nil {
		return domain.Node{}, err
	}
	return s.SpectrumStore.Splice(ctx, id, item, pos)
}

func TestRunRelocatesAfterStalePosition(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	list := e.list(t, e.items(t, "50")...)
	e.items(t, "60")
	other, err := e.repo.CreateContainer(context.Background(), "elsewhere", 0)
	require.NoError(t, err)
	intruder, err := e.repo.CreateItem(context.Background(), domain.Item{Statement: "70", ContainerID: other.ID})
	require.NoError(t, err)

	store := &intruding{SpectrumStore: e.repo, intruder: intruder}
	report, err := e.ranker(store, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 3, report.Probes)
	assert.Equal(t, []string{"70", "60", "50"}, e.order(t, list.ID))
}

type alwaysStale struct {
	ports.SpectrumStore
	splices int
}

func (s *alwaysStale) Splice(context.Context, domain.ListID, domain.Item, spectrum.Position) (domain.Node, error) {
	s.splices++
	return domain.Node{}, spectrum.ErrStalePosition
}

func TestRunGivesUpAfterMaxSpliceAttempts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.list(t, e.items(t, "50")...)
	e.items(t, "60")

	store := &alwaysStale{SpectrumStore: e.repo}
	report, err := e.ranker(store, RankerConfig{MaxSpliceAttempts: 2}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, store.splices)
}

// editing changes the item's statement right before it is spliced.
type editing struct {
	ports.SpectrumStore
	repo ports.ItemRepository
}

func (s *editing) Splice(ctx context.Context, id domain.ListID, item domain.Item, pos spectrum.Position) (domain.Node, error) {
	if _, err := s.repo.UpdateItem(ctx, item.ID, func(it *domain.Item) error {
		it.Statement += " (edited)"
		return nil
	}); err != nil {
		return domain.Node{}, err
	}
	return s.SpectrumStore.Splice(ctx, id, item, pos)
}

func TestRunSkipsItemChangedDuringComparison(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	list := e.list(t, e.items(t, "50")...)
	e.items(t, "60")

	report, err := e.ranker(&editing{SpectrumStore: e.repo, repo: e.repo}, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, []string{"50"}, e.order(t, list.ID))
}

type brokenStore struct {
	ports.SpectrumStore
}

func (brokenStore) Chain(context.Context, domain.ListID) (*spectrum.Chain, error) {
	return nil, spectrum.ErrBrokenChain
}

func TestRunAbortsOnBrokenChain(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.list(t, e.items(t, "50")...)
	e.items(t, "60", "70")

	report, err := e.ranker(brokenStore{SpectrumStore: e.repo}, RankerConfig{}, nil).Run(context.Background(), e.request())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, report.Status)
	assert.Contains(t, report.Error, "broken chain")
}

func TestStartValidatesSynchronously(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	r := e.ranker(nil, RankerConfig{}, nil)
	ctx := context.Background()

	req := e.request()
	req.ContainerID = 999
	_, err := r.Start(ctx, req)
	assert.ErrorIs(t, err, ErrScopeNotFound)

	req = e.request()
	req.CriterionID = 999
	_, err = r.Start(ctx, req)
	assert.ErrorIs(t, err, ErrCriterionNotFound)

	req = e.request()
	req.Model = "oracle"
	_, err = r.Start(ctx, req)
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	req = e.request()
	req.Strategy = "quick"
	_, err = r.Start(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	assert.Empty(t, r.Runs())
}

func TestStartRunsInBackgroundAndCancels(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.list(t, e.items(t, "5")...)
	e.items(t, "1", "2")
	e.cmp.block = true

	r := e.ranker(nil, RankerConfig{}, nil)
	id, err := r.Start(context.Background(), e.request())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	report, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, RunRunning, report.Status)

	require.NoError(t, r.Cancel(id))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err = r.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, report.Status)
	assert.Zero(t, report.Inserted)
	assert.False(t, report.FinishedAt.IsZero())

	assert.ErrorIs(t, r.Cancel("missing"), ErrRunNotFound)
	_, err = r.Wait(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	require.Len(t, r.Runs(), 1)
}

func TestShutdownStopsBackgroundRuns(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.list(t, e.items(t, "5")...)
	e.items(t, "1")
	e.cmp.block = true

	r := e.ranker(nil, RankerConfig{}, nil)
	id, err := r.Start(context.Background(), e.request())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	report, _ := r.Get(id)
	assert.Equal(t, RunCancelled, report.Status)
}

type notifierFunc func(ctx context.Context, text string) error

func (f notifierFunc) Publish(ctx context.Context, text string) error { return f(ctx, text) }

func TestRunPublishesReport(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.items(t, "1", "2")

	var published []string
	notifier := notifierFunc(func(_ context.Context, text string) error {
		published = append(published, text)
		return errors.New("telegram down")
	})

	report, err := e.ranker(nil, RankerConfig{PublishReports: true}, notifier).Run(context.Background(), e.request())
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Contains(t, published[0], string(report.ID))
	assert.Contains(t, published[0], "2 inserted")
}

func TestGetReportsProgressWhileRunning(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	list := e.list(t, e.items(t, "5")...)
	e.items(t, "1", "2")
	e.cmp.blockAfter = 1

	r := e.ranker(nil, RankerConfig{}, nil)
	id, err := r.Start(context.Background(), e.request())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		report, ok := r.Get(id)
		return ok && report.Inserted == 1
	}, 5*time.Second, 10*time.Millisecond)

	report, _ := r.Get(id)
	assert.Equal(t, RunRunning, report.Status)
	assert.Equal(t, list.ID, report.ListID)
	assert.Equal(t, 1, report.Probes)

	require.NoError(t, r.Cancel(id))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err = r.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, report.Status)
	assert.Equal(t, 1, report.Inserted)
}

func TestRunsKeepsBoundedHistory(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	r := e.ranker(nil, RankerConfig{RunHistory: 2}, nil)

	var ids []RunID
	for range 3 {
		report, err := r.Run(context.Background(), e.request())
		require.NoError(t, err)
		ids = append(ids, report.ID)
	}

	runs := r.Runs()
	require.Len(t, runs, 2)
	_, ok := r.Get(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		report, ok := r.Get(id)
		require.True(t, ok)
		assert.Equal(t, RunCompleted, report.Status)
	}
}
