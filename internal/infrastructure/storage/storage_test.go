package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/spectrum"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, SQLite, filepath.Join(t.TempDir(), "spectrum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return NewRepository(db)
}

type fixture struct {
	repo      *Repository
	container domain.Container
	criterion domain.Criterion
	items     []domain.Item
}

func seed(t *testing.T, statements ...string) fixture {
	t.Helper()

	ctx := context.Background()
	repo := newRepo(t)
	container, err := repo.CreateContainer(ctx, "inbox", 0)
	require.NoError(t, err)
	criterion, err := repo.CreateCriterion(ctx, "priority", "is urgent and important")
	require.NoError(t, err)

	f := fixture{repo: repo, container: container, criterion: criterion}
	for _, s := range statements {
		item, err := repo.CreateItem(ctx, domain.Item{Statement: s, Actionable: true, ContainerID: container.ID})
		require.NoError(t, err)
		f.items = append(f.items, item)
	}
	return f
}

func (f fixture) key() domain.ListKey {
	return domain.ListKey{CriterionVersion: f.criterion.VersionID, Model: "test", Scope: domain.Scope{ContainerID: f.container.ID}}
}

// build creates a list from the items in order, head first.
func (f fixture) build(t *testing.T, items ...domain.Item) domain.RankedList {
	t.Helper()

	ctx := context.Background()
	list, err := f.repo.CreateList(ctx, f.key(), items[0])
	require.NoError(t, err)
	for _, item := range items[1:] {
		chain, err := f.repo.Chain(ctx, list.ID)
		require.NoError(t, err)
		_, err = f.repo.Splice(ctx, list.ID, item, spectrum.Position{Prev: chain.Tail()})
		require.NoError(t, err)
	}
	return list
}

func (f fixture) order(t *testing.T, list domain.ListID) []string {
	t.Helper()

	chain, err := f.repo.Chain(context.Background(), list)
	require.NoError(t, err)
	var out []string
	for _, n := range chain.Nodes() {
		out = append(out, n.Item.Statement)
	}
	backward := chain.Backward()
	for i := range backward {
		require.Equal(t, out[len(out)-1-i], backward[i].Item.Statement, "backward walk differs")
	}
	return out
}

func (f fixture) nodeOf(t *testing.T, list domain.ListID, item domain.ItemID) domain.ChainNode {
	t.Helper()

	chain, err := f.repo.Chain(context.Background(), list)
	require.NoError(t, err)
	for _, n := range chain.Nodes() {
		if n.ItemID == item {
			return n
		}
	}
	t.Fatalf("item %d not in list %d", item, list)
	return domain.ChainNode{}
}

func TestSpliceIntoEveryGap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "b", "d", "a", "e", "c")
	list, err := f.repo.CreateList(ctx, f.key(), f.items[0])
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, f.order(t, list.ID))

	chain, err := f.repo.Chain(ctx, list.ID)
	require.NoError(t, err)
	nodeB := chain.Head()

	_, err = f.repo.Splice(ctx, list.ID, f.items[1], spectrum.Position{Prev: nodeB})
	require.NoError(t, err)
	d := f.nodeOf(t, list.ID, f.items[1].ID).ID

	_, err = f.repo.Splice(ctx, list.ID, f.items[2], spectrum.Position{Next: nodeB})
	require.NoError(t, err)
	_, err = f.repo.Splice(ctx, list.ID, f.items[3], spectrum.Position{Prev: d})
	require.NoError(t, err)
	_, err = f.repo.Splice(ctx, list.ID, f.items[4], spectrum.Position{Prev: nodeB, Next: d})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, f.order(t, list.ID))

	stored, err := f.repo.GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, f.nodeOf(t, list.ID, f.items[2].ID).ID, stored.Head)
}

func TestSpliceRejectsStalePosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "first", "second", "third")
	list, err := f.repo.CreateList(ctx, f.key(), f.items[0])
	require.NoError(t, err)

	snapshot, err := f.repo.Chain(ctx, list.ID)
	require.NoError(t, err)
	tailGap := spectrum.Position{Prev: snapshot.Tail()}
	headGap := spectrum.Position{Next: snapshot.Head()}

	_, err = f.repo.Splice(ctx, list.ID, f.items[1], tailGap)
	require.NoError(t, err)

	_, err = f.repo.Splice(ctx, list.ID, f.items[2], tailGap)
	require.ErrorIs(t, err, spectrum.ErrStalePosition)

	_, err = f.repo.Splice(ctx, list.ID, f.items[2], spectrum.Position{})
	require.ErrorIs(t, err, spectrum.ErrStalePosition)

	_, err = f.repo.Splice(ctx, list.ID, f.items[2], headGap)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first", "second"}, f.order(t, list.ID))
}

func TestSpliceRejectsChangedOrRankedItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "head", "moving")
	list, err := f.repo.CreateList(ctx, f.key(), f.items[0])
	require.NoError(t, err)
	head := f.nodeOf(t, list.ID, f.items[0].ID).ID

	_, err = f.repo.UpdateItem(ctx, f.items[1].ID, func(i *domain.Item) error {
		i.Statement = "moved on"
		return nil
	})
	require.NoError(t, err)

	_, err = f.repo.Splice(ctx, list.ID, f.items[1], spectrum.Position{Prev: head})
	require.ErrorIs(t, err, spectrum.ErrItemChanged)

	_, err = f.repo.Splice(ctx, list.ID, f.items[0], spectrum.Position{Prev: head})
	require.ErrorIs(t, err, spectrum.ErrAlreadyRanked)
	assert.Equal(t, []string{"head"}, f.order(t, list.ID))
}

func TestContextChangeRemovesMiddleNode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "0.995", "0.5", "0.1")
	list := f.build(t, f.items...)
	require.Equal(t, []string{"0.995", "0.5", "0.1"}, f.order(t, list.ID))

	// Saving without changes keeps every node.
	update, err := f.repo.UpdateItem(ctx, f.items[1].ID, func(*domain.Item) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, update.Invalidated)
	require.Len(t, f.order(t, list.ID), 3)

	update, err = f.repo.UpdateItem(ctx, f.items[1].ID, func(i *domain.Item) error {
		i.Done = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, update.Invalidated)
	assert.Equal(t, []string{"done"}, update.Changed)

	chain, err := f.repo.Chain(ctx, list.ID)
	require.NoError(t, err)
	head, _ := chain.Node(chain.Head())
	tail, _ := chain.Node(chain.Tail())
	assert.Equal(t, f.items[0].ID, head.ItemID)
	assert.Equal(t, f.items[2].ID, tail.ItemID)
	assert.Equal(t, tail.ID, head.Next)
	assert.Equal(t, head.ID, tail.Prev)
	assert.False(t, tail.Next.Valid())
	assert.False(t, head.Prev.Valid())
}

func TestUpdateItemInvalidatesOnEveryRankingField(t *testing.T) {
	t.Parallel()

	other := func(t *testing.T, f fixture) domain.ContainerID {
		c, err := f.repo.CreateContainer(context.Background(), "elsewhere", 0)
		require.NoError(t, err)
		return c.ID
	}

	cases := map[string]func(t *testing.T, f fixture) func(*domain.Item) error{
		"statement": func(*testing.T, fixture) func(*domain.Item) error {
			return func(i *domain.Item) error { i.Statement = "rewritten"; return nil }
		},
		"actionable": func(*testing.T, fixture) func(*domain.Item) error {
			return func(i *domain.Item) error { i.Actionable = false; return nil }
		},
		"done": func(*testing.T, fixture) func(*domain.Item) error {
			return func(i *domain.Item) error { i.Done = true; return nil }
		},
		"archived": func(*testing.T, fixture) func(*domain.Item) error {
			return func(i *domain.Item) error { i.Archived = true; return nil }
		},
		"container": func(t *testing.T, f fixture) func(*domain.Item) error {
			id := other(t, f)
			return func(i *domain.Item) error { i.ContainerID = id; return nil }
		},
	}

	for field, mutation := range cases {
		field, mutation := field, mutation
		t.Run(field, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := seed(t, "a", "b", "c")
			list := f.build(t, f.items...)

			update, err := f.repo.UpdateItem(ctx, f.items[0].ID, mutation(t, f))
			require.NoError(t, err)
			assert.Equal(t, []string{field}, update.Changed)
			assert.Equal(t, 1, update.Invalidated)
			assert.Equal(t, []string{"b", "c"}, f.order(t, list.ID))

			unranked, err := f.repo.UnrankedItems(ctx, list.ID)
			require.NoError(t, err)
			switch field {
			case "statement", "actionable":
				// The list does not filter on actionable, so the item waits for re-insertion.
				require.Len(t, unranked, 1)
				assert.Equal(t, f.items[0].ID, unranked[0].ID)
			default:
				assert.Empty(t, unranked, "item left the scope")
			}
		})
	}
}

func TestUpdateItemIgnoresUnrelatedFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "parent", "child")
	list := f.build(t, f.items...)

	update, err := f.repo.UpdateItem(ctx, f.items[1].ID, func(i *domain.Item) error {
		i.ParentItemID = f.items[0].ID
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, update.Changed)
	assert.Zero(t, update.Invalidated)
	assert.Equal(t, f.items[0].ID, update.After.ParentItemID)
	assert.Equal(t, []string{"parent", "child"}, f.order(t, list.ID))

	stored, err := f.repo.GetItem(ctx, f.items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, f.items[0].ID, stored.ParentItemID)
	assert.Equal(t, f.items[1].VersionID, stored.VersionID)
}

func TestUpdateItemVersionsStatementAndStampsCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "draft")
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.repo.now = func() time.Time { return clock }

	update, err := f.repo.UpdateItem(ctx, f.items[0].ID, func(i *domain.Item) error {
		i.Statement = "final"
		i.Done = true
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, f.items[0].VersionID, update.After.VersionID)
	require.NotNil(t, update.After.CompletedAt)
	assert.True(t, update.After.CompletedAt.Equal(clock))

	stored, err := f.repo.GetItem(ctx, f.items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, update.After.VersionID, stored.VersionID)
	assert.Equal(t, "final", stored.Statement)
	assert.True(t, stored.StatementUpdatedAt.Equal(clock))

	update, err = f.repo.UpdateItem(ctx, f.items[0].ID, func(i *domain.Item) error {
		i.Done = false
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, update.After.CompletedAt)
}

func TestDeleteNodeRepairsHeadAndTail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "a", "b", "c", "d")
	list := f.build(t, f.items[:3]...)

	require.NoError(t, f.repo.DeleteNode(ctx, f.nodeOf(t, list.ID, f.items[0].ID).ID))
	assert.Equal(t, []string{"b", "c"}, f.order(t, list.ID))
	stored, err := f.repo.GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, f.nodeOf(t, list.ID, f.items[1].ID).ID, stored.Head)

	require.NoError(t, f.repo.DeleteNode(ctx, f.nodeOf(t, list.ID, f.items[2].ID).ID))
	assert.Equal(t, []string{"b"}, f.order(t, list.ID))

	require.NoError(t, f.repo.DeleteNode(ctx, f.nodeOf(t, list.ID, f.items[1].ID).ID))
	stored, err = f.repo.GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.False(t, stored.Head.Valid())

	_, err = f.repo.Splice(ctx, list.ID, f.items[3], spectrum.Position{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, f.order(t, list.ID))

	err = f.repo.DeleteNode(ctx, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteItemRepairsEveryList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "a", "b", "c")
	first := f.build(t, f.items...)

	key := f.key()
	key.Model = "another"
	second, err := f.repo.CreateList(ctx, key, f.items[1])
	require.NoError(t, err)

	require.NoError(t, f.repo.DeleteItem(ctx, f.items[1].ID))
	assert.Equal(t, []string{"a", "c"}, f.order(t, first.ID))

	stored, err := f.repo.GetList(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, stored.Head.Valid())

	_, err = f.repo.GetItem(ctx, f.items[1].ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRebuildRelinksInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "a", "b", "c", "d")
	list := f.build(t, f.items[:2]...)

	chain, err := f.repo.Chain(ctx, list.ID)
	require.NoError(t, err)

	ordered := []domain.Item{f.items[3], f.items[1], f.items[2], f.items[0]}
	require.NoError(t, f.repo.Rebuild(ctx, list.ID, chain, ordered))
	assert.Equal(t, []string{"d", "b", "c", "a"}, f.order(t, list.ID))

	unranked, err := f.repo.UnrankedItems(ctx, list.ID)
	require.NoError(t, err)
	assert.Empty(t, unranked)

	// The old snapshot no longer matches the stored chain.
	err = f.repo.Rebuild(ctx, list.ID, chain, ordered)
	require.ErrorIs(t, err, spectrum.ErrStalePosition)
}

func TestFindListAndUnrankedScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "open", "finished")
	_, err := f.repo.UpdateItem(ctx, f.items[1].ID, func(i *domain.Item) error { i.Done = true; return nil })
	require.NoError(t, err)

	_, found, err := f.repo.FindList(ctx, f.key())
	require.NoError(t, err)
	assert.False(t, found)

	list, err := f.repo.CreateList(ctx, f.key(), f.items[0])
	require.NoError(t, err)

	got, found, err := f.repo.FindList(ctx, f.key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, list.ID, got.ID)
	assert.Nil(t, got.Key.Scope.Actionable)

	withDone := f.key()
	withDone.Scope.IncludeDone = true
	_, found, err = f.repo.FindList(ctx, withDone)
	require.NoError(t, err)
	assert.False(t, found, "scope is part of the list identity")

	unranked, err := f.repo.UnrankedItems(ctx, list.ID)
	require.NoError(t, err)
	assert.Empty(t, unranked, "done items are out of scope")

	doneList, err := f.repo.CreateList(ctx, withDone, f.items[0])
	require.NoError(t, err)
	unranked, err = f.repo.UnrankedItems(ctx, doneList.ID)
	require.NoError(t, err)
	require.Len(t, unranked, 1)
	assert.Equal(t, "finished", unranked[0].Statement)
}

func TestCriterionVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t)

	updated, err := f.repo.UpdateCriterionStatement(ctx, f.criterion.ID, "moves the quarter goal")
	require.NoError(t, err)
	assert.NotEqual(t, f.criterion.VersionID, updated.VersionID)
	assert.Equal(t, "moves the quarter goal", updated.Statement)

	got, err := f.repo.GetCriterion(ctx, f.criterion.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = f.repo.GetCriterion(ctx, 404)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComparisonLookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newRepo(t)
	key := domain.ComparisonKey{Subject: 1, Left: 2, Right: 3}
	other := domain.ComparisonKey{Subject: 1, Left: 3, Right: 2}

	first, err := repo.SaveComparison(ctx, domain.ComparisonRecord{Model: "m", Key: key, LeftWins: true, Latency: 1500 * time.Millisecond})
	require.NoError(t, err)
	second, err := repo.SaveComparison(ctx, domain.ComparisonRecord{Model: "m", Key: key, LeftWins: false})
	require.NoError(t, err)
	_, err = repo.SaveComparison(ctx, domain.ComparisonRecord{Model: "m", Key: other, LeftWins: true})
	require.NoError(t, err)

	latest, ok, err := repo.Latest(ctx, "m", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	_, ok, err = repo.LatestHuman(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	human, err := repo.SaveComparison(ctx, domain.ComparisonRecord{Model: domain.HumanModel, Key: key, LeftWins: true, Human: true})
	require.NoError(t, err)
	got, ok, err := repo.LatestHuman(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, human.ID, got.ID)

	decisions, err := repo.Decisions(ctx, "m")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, second.ID, decisions[0].ID)
	assert.NotEqual(t, first.ID, decisions[0].ID)

	_, ok, err = repo.Latest(ctx, "unknown", key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockQueryOrdersIdsPerDialect(t *testing.T) {
	t.Parallel()

	pg := NewRepository(Wrap(nil, Postgres))
	b, ok := pg.lockQuery(9, 0, 4, 9, 2)
	require.True(t, ok)
	query, args, err := b.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, list_id, item_id, data, prev_id, next_id, created_at FROM spectrum_nodes "+
		"WHERE id IN ($1,$2,$3) ORDER BY id FOR UPDATE", query)
	assert.Equal(t, []any{int64(2), int64(4), int64(9)}, args)

	lite := NewRepository(Wrap(nil, SQLite))
	b, ok = lite.lockQuery(4, 2)
	require.True(t, ok)
	query, _, err = b.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, list_id, item_id, data, prev_id, next_id, created_at FROM spectrum_nodes "+
		"WHERE id IN (?,?) ORDER BY id", query)

	_, ok = pg.lockQuery(0)
	assert.False(t, ok)
}

func TestDeleteNodeDetectsBrokenLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "a", "b", "c")
	list := f.build(t, f.items...)
	middle := f.nodeOf(t, list.ID, f.items[1].ID).ID

	_, err := f.repo.db.db.ExecContext(ctx, "UPDATE spectrum_nodes SET prev_id = NULL WHERE id = ?", int64(middle))
	require.NoError(t, err)

	err = f.repo.DeleteNode(ctx, middle)
	require.ErrorIs(t, err, spectrum.ErrBrokenChain)
}

func TestSortKeysFollowChainOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := seed(t, "b", "d", "a", "e", "c")
	list, err := f.repo.CreateList(ctx, f.key(), f.items[0])
	require.NoError(t, err)
	b := f.nodeOf(t, list.ID, f.items[0].ID).ID

	_, err = f.repo.Splice(ctx, list.ID, f.items[1], spectrum.Position{Prev: b})
	require.NoError(t, err)
	d := f.nodeOf(t, list.ID, f.items[1].ID).ID
	_, err = f.repo.Splice(ctx, list.ID, f.items[2], spectrum.Position{Next: b})
	require.NoError(t, err)
	_, err = f.repo.Splice(ctx, list.ID, f.items[3], spectrum.Position{Prev: d})
	require.NoError(t, err)
	node, err := f.repo.Splice(ctx, list.ID, f.items[4], spectrum.Position{Prev: b, Next: d})
	require.NoError(t, err)
	require.NotNil(t, node.SortKey)
	assert.InDelta(t, 0.5, *node.SortKey, 1e-9)

	keys := func() []float64 {
		chain, err := f.repo.Chain(ctx, list.ID)
		require.NoError(t, err)
		var out []float64
		for _, n := range chain.Nodes() {
			require.NotNil(t, n.SortKey, "node %d", n.ID)
			out = append(out, *n.SortKey)
		}
		return out
	}
	assert.Equal(t, []float64{-1, 0, 0.5, 1, 2}, keys())

	chain, err := f.repo.Chain(ctx, list.ID)
	require.NoError(t, err)
	ordered := []domain.Item{f.items[3], f.items[1], f.items[4], f.items[0], f.items[2]}
	require.NoError(t, f.repo.Rebuild(ctx, list.ID, chain, ordered))
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, f.order(t, list.ID))
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, keys())
}
