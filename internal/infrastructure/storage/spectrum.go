package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/spectrum"
)

var listColumns = []string{"id", "criterion_version_id", "model", "container_id", "actionable_filter",
	"include_done", "include_archived", "evaluative", "head_id", "created_at"}

var nodeColumns = []string{"id", "list_id", "item_id", "data", "prev_id", "next_id", "created_at"}

func actionableFilter(v *bool) int {
	switch {
	case v == nil:
		return -1
	case *v:
		return 1
	default:
		return 0
	}
}

func scanList(row rowScanner) (domain.RankedList, error) {
	var (
		l          domain.RankedList
		container  int64
		actionable int
		head       sql.NullInt64
		created    int64
	)
	err := row.Scan(&l.ID, &l.Key.CriterionVersion, &l.Key.Model, &container, &actionable,
		&l.Key.Scope.IncludeDone, &l.Key.Scope.IncludeArchived, &l.Key.Evaluative, &head, &created)
	if err != nil {
		return domain.RankedList{}, err
	}
	l.Key.Scope.ContainerID = domain.ContainerID(container)
	if actionable >= 0 {
		v := actionable == 1
		l.Key.Scope.Actionable = &v
	}
	l.Head = domain.NodeID(head.Int64)
	l.CreatedAt = fromMillis(created)
	return l, nil
}

func scanNode(row rowScanner, extra ...any) (domain.Node, error) {
	var (
		n                domain.Node
		list, prev, next sql.NullInt64
		data             sql.NullFloat64
		created          int64
	)
	dest := []any{&n.ID, &list, &n.ItemID, &data, &prev, &next, &created}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Node{}, err
	}
	n.ListID = domain.ListID(list.Int64)
	n.Prev = domain.NodeID(prev.Int64)
	n.Next = domain.NodeID(next.Int64)
	if data.Valid {
		v := data.Float64
		n.SortKey = &v
	}
	n.CreatedAt = fromMillis(created)
	return n, nil
}

// FindList returns the list for key, if one exists.
func (r *Repository) FindList(ctx context.Context, key domain.ListKey) (domain.RankedList, bool, error) {
	row, err := queryRow(ctx, r.db.db, r.db.sb.Select(listColumns...).From("spectrum_lists").Where(sq.Eq{
		"criterion_version_id": int64(key.CriterionVersion),
		"model":                key.Model,
		"container_id":         int64(key.Scope.ContainerID),
		"actionable_filter":    actionableFilter(key.Scope.Actionable),
		"include_done":         key.Scope.IncludeDone,
		"include_archived":     key.Scope.IncludeArchived,
		"evaluative":           key.Evaluative,
	}))
	if err != nil {
		return domain.RankedList{}, false, err
	}
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RankedList{}, false, nil
	}
	if err != nil {
		return domain.RankedList{}, false, fmt.Errorf("find list: %w", err)
	}
	return l, true, nil
}

// GetList loads one list.
func (r *Repository) GetList(ctx context.Context, id domain.ListID) (domain.RankedList, error) {
	return r.getList(ctx, r.db.db, id, false)
}

func (r *Repository) getList(ctx context.Context, q queryer, id domain.ListID, lock bool) (domain.RankedList, error) {
	b := r.db.sb.Select(listColumns...).From("spectrum_lists").Where(sq.Eq{"id": int64(id)})
	if lock {
		b = r.db.forUpdate(b)
	}
	row, err := queryRow(ctx, q, b)
	if err != nil {
		return domain.RankedList{}, err
	}
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RankedList{}, fmt.Errorf("list %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RankedList{}, fmt.Errorf("get list %d: %w", id, err)
	}
	return l, nil
}

// CreateList stores a list for key with first as its only node.
func (r *Repository) CreateList(ctx context.Context, key domain.ListKey, first domain.Item) (domain.RankedList, error) {
	now := r.stamp()
	list := domain.RankedList{Key: key, CreatedAt: now}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.verifyItem(ctx, tx, first); err != nil {
			return err
		}

		id, err := insertID(ctx, tx, r.db.sb.Insert("spectrum_lists").
			Columns("criterion_version_id", "model", "container_id", "actionable_filter",
				"include_done", "include_archived", "evaluative", "created_at").
			Values(int64(key.CriterionVersion), key.Model, int64(key.Scope.ContainerID), actionableFilter(key.Scope.Actionable),
				key.Scope.IncludeDone, key.Scope.IncludeArchived, key.Evaluative, millis(now)))
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		list.ID = domain.ListID(id)

		node, err := r.insertDetached(ctx, tx, first.ID)
		if err != nil {
			return err
		}
		if err := r.attach(ctx, tx, node, list.ID, 0, 0, ptr(0)); err != nil {
			return err
		}
		list.Head = node
		return r.setHead(ctx, tx, list.ID, node)
	})
	if err != nil {
		return domain.RankedList{}, err
	}
	return list, nil
}

// Chain reads a consistent, unlocked snapshot of the list.
func (r *Repository) Chain(ctx context.Context, id domain.ListID) (*spectrum.Chain, error) {
	var (
		head  domain.NodeID
		nodes []domain.ChainNode
	)

	opts := &sql.TxOptions{ReadOnly: true}
	if r.db.dialect == Postgres {
		opts.Isolation = sql.LevelRepeatableRead
	} else {
		opts = nil
	}
	tx, err := r.db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	list, err := r.getList(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	head = list.Head

	cols := make([]string, 0, len(nodeColumns))
	for _, c := range nodeColumns {
		cols = append(cols, "n."+c)
	}
	b := r.db.sb.Select(append(cols, itemColumns("i.")...)...).
		From("spectrum_nodes n").
		Join("items i ON i.id = n.item_id").
		Where(sq.Eq{"n.list_id": int64(id)})
	err = queryAll(ctx, tx, b, func(rows *sql.Rows) error {
		var cn domain.ChainNode
		item, err := scanItem(chainRow{rows: rows, node: &cn.Node})
		if err != nil {
			return fmt.Errorf("scan chain node: %w", err)
		}
		cn.Item = item
		nodes = append(nodes, cn)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read chain of list %d: %w", id, err)
	}

	chain, err := spectrum.NewChain(head, nodes)
	if err != nil {
		return nil, fmt.Errorf("list %d: %w", id, err)
	}
	return chain, nil
}

// chainRow scans the node columns of a joined row, then hands the item
// columns to scanItem.
type chainRow struct {
	rows *sql.Rows
	node *domain.Node
}

func (c chainRow) Scan(itemDest ...any) error {
	n, err := scanNode(c.rows, itemDest...)
	if err != nil {
		return err
	}
	*c.node = n
	return nil
}

type link struct {
	list domain.ListID
	prev domain.NodeID
	next domain.NodeID
	key  *float64
}

// lockQuery selects the distinct valid ids in id order, with row locks on
// dialects that have them. Every writer locks the list row first and nodes in
// id order after it.
func (r *Repository) lockQuery(ids ...domain.NodeID) (sq.SelectBuilder, bool) {
	seen := map[domain.NodeID]bool{}
	var keys []int64
	for _, id := range ids {
		if id.Valid() && !seen[id] {
			seen[id] = true
			keys = append(keys, int64(id))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	b := r.db.sb.Select(nodeColumns...).From("spectrum_nodes").Where(sq.Eq{"id": keys}).OrderBy("id")
	return r.db.forUpdate(b), len(keys) > 0
}

// lockNodes reads the links of ids under row locks, in id order.
func (r *Repository) lockNodes(ctx context.Context, tx *sql.Tx, ids ...domain.NodeID) (map[domain.NodeID]link, error) {
	links := map[domain.NodeID]link{}
	b, ok := r.lockQuery(ids...)
	if !ok {
		return links, nil
	}

	err := queryAll(ctx, tx, b, func(rows *sql.Rows) error {
		n, err := scanNode(rows)
		if err != nil {
			return fmt.Errorf("scan node: %w", err)
		}
		links[n.ID] = link{list: n.ListID, prev: n.Prev, next: n.Next, key: n.SortKey}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lock nodes: %w", err)
	}
	return links, nil
}

// Splice inserts snapshot's item into the gap pos. It fails with
// ErrStalePosition when the gap no longer exists, ErrItemChanged when the item
// moved on since the snapshot and ErrAlreadyRanked when the list has it.
func (r *Repository) Splice(ctx context.Context, id domain.ListID, snapshot domain.Item, pos spectrum.Position) (domain.Node, error) {
	var node domain.Node
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if pos.IsHead() {
			list, err := r.getList(ctx, tx, id, true)
			if err != nil {
				return err
			}
			if list.Head != pos.Next {
				return fmt.Errorf("list %d head is %d, not %d: %w", id, list.Head, pos.Next, spectrum.ErrStalePosition)
			}
		}

		links, err := r.lockNodes(ctx, tx, pos.Prev, pos.Next)
		if err != nil {
			return err
		}
		if err := checkGap(id, pos, links); err != nil {
			return err
		}

		if err := r.verifyItem(ctx, tx, snapshot); err != nil {
			return err
		}
		ranked, err := r.hasNode(ctx, tx, id, snapshot.ID)
		if err != nil {
			return err
		}
		if ranked {
			return fmt.Errorf("item %d in list %d: %w", snapshot.ID, id, spectrum.ErrAlreadyRanked)
		}

		nodeID, err := r.insertDetached(ctx, tx, snapshot.ID)
		if err != nil {
			return err
		}
		key := gapKey(pos, links)
		if err := r.attach(ctx, tx, nodeID, id, pos.Prev, pos.Next, key); err != nil {
			return err
		}
		if pos.Prev.Valid() {
			if err := r.setLink(ctx, tx, pos.Prev, "next_id", nodeID); err != nil {
				return err
			}
		} else if err := r.setHead(ctx, tx, id, nodeID); err != nil {
			return err
		}
		if pos.Next.Valid() {
			if err := r.setLink(ctx, tx, pos.Next, "prev_id", nodeID); err != nil {
				return err
			}
		}

		node = domain.Node{ID: nodeID, ListID: id, ItemID: snapshot.ID, SortKey: key, Prev: pos.Prev, Next: pos.Next, CreatedAt: r.stamp()}
		return nil
	})
	if err != nil {
		return domain.Node{}, err
	}
	return node, nil
}

func checkGap(id domain.ListID, pos spectrum.Position, links map[domain.NodeID]link) error {
	stale := func(format string, args ...any) error {
		return fmt.Errorf("list %d: "+format+": %w", append(append([]any{id}, args...), spectrum.ErrStalePosition)...)
	}

	if pos.Prev.Valid() {
		p, ok := links[pos.Prev]
		if !ok || p.list != id {
			return stale("node %d left the list", pos.Prev)
		}
		if p.next != pos.Next {
			return stale("node %d is followed by %d", pos.Prev, p.next)
		}
	}
	if pos.Next.Valid() {
		n, ok := links[pos.Next]
		if !ok || n.list != id {
			return stale("node %d left the list", pos.Next)
		}
		if n.prev != pos.Prev {
			return stale("node %d is preceded by %d", pos.Next, n.prev)
		}
	}
	return nil
}

// gapKey picks a sort key between the neighbours of pos. It is nil when a
// neighbour has no key or the neighbours' keys leave no room.
func gapKey(pos spectrum.Position, links map[domain.NodeID]link) *float64 {
	prev, next := links[pos.Prev].key, links[pos.Next].key
	switch {
	case !pos.Prev.Valid() && !pos.Next.Valid():
		return ptr(0)
	case !pos.Prev.Valid():
		if next == nil {
			return nil
		}
		return ptr(*next - 1)
	case !pos.Next.Valid():
		if prev == nil {
			return nil
		}
		return ptr(*prev + 1)
	case prev == nil || next == nil:
		return nil
	}
	mid := *prev + (*next-*prev)/2
	if mid <= *prev || mid >= *next {
		return nil
	}
	return &mid
}

func ptr(v float64) *float64 { return &v }

// verifyItem locks the item row and checks it still matches snapshot.
func (r *Repository) verifyItem(ctx context.Context, tx *sql.Tx, snapshot domain.Item) error {
	current, err := r.getItem(ctx, tx, snapshot.ID, true)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("item %d deleted: %w", snapshot.ID, spectrum.ErrItemChanged)
	}
	if err != nil {
		return err
	}
	if current.VersionID != snapshot.VersionID || spectrum.ContextChanged(snapshot, current) {
		return fmt.Errorf("item %d: %w", snapshot.ID, spectrum.ErrItemChanged)
	}
	return nil
}

func (r *Repository) hasNode(ctx context.Context, tx *sql.Tx, list domain.ListID, item domain.ItemID) (bool, error) {
	row, err := queryRow(ctx, tx, r.db.sb.Select("COUNT(*)").From("spectrum_nodes").
		Where(sq.Eq{"list_id": int64(list), "item_id": int64(item)}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("count nodes: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) insertDetached(ctx context.Context, tx *sql.Tx, item domain.ItemID) (domain.NodeID, error) {
	id, err := insertID(ctx, tx, r.db.sb.Insert("spectrum_nodes").
		Columns("item_id", "created_at").
		Values(int64(item), millis(r.stamp())))
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}
	return domain.NodeID(id), nil
}

func (r *Repository) attach(ctx context.Context, tx *sql.Tx, node domain.NodeID, list domain.ListID, prev, next domain.NodeID, key *float64) error {
	var data sql.NullFloat64
	if key != nil {
		data = sql.NullFloat64{Float64: *key, Valid: true}
	}
	_, err := exec(ctx, tx, r.db.sb.Update("spectrum_nodes").
		Set("list_id", int64(list)).
		Set("data", data).
		Set("prev_id", nullID(prev)).
		Set("next_id", nullID(next)).
		Where(sq.Eq{"id": int64(node)}))
	if err != nil {
		return fmt.Errorf("attach node %d: %w", node, err)
	}
	return nil
}

func (r *Repository) setLink(ctx context.Context, tx *sql.Tx, node domain.NodeID, column string, target domain.NodeID) error {
	_, err := exec(ctx, tx, r.db.sb.Update("spectrum_nodes").Set(column, nullID(target)).Where(sq.Eq{"id": int64(node)}))
	if err != nil {
		return fmt.Errorf("relink node %d: %w", node, err)
	}
	return nil
}

func (r *Repository) setHead(ctx context.Context, tx *sql.Tx, list domain.ListID, head domain.NodeID) error {
	_, err := exec(ctx, tx, r.db.sb.Update("spectrum_lists").Set("head_id", nullID(head)).Where(sq.Eq{"id": int64(list)}))
	if err != nil {
		return fmt.Errorf("set head of list %d: %w", list, err)
	}
	return nil
}

// DeleteNode removes a node and links its neighbours to each other.
func (r *Repository) DeleteNode(ctx context.Context, id domain.NodeID) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		return r.deleteNode(ctx, tx, id)
	})
}

func (r *Repository) deleteNode(ctx context.Context, tx *sql.Tx, id domain.NodeID) error {
	n, err := r.lockNeighbourhood(ctx, tx, id)
	if err != nil {
		return err
	}

	if n.list != 0 {
		if n.prev.Valid() {
			if err := r.setLink(ctx, tx, n.prev, "next_id", n.next); err != nil {
				return err
			}
		} else if err := r.setHead(ctx, tx, n.list, n.next); err != nil {
			return err
		}
		if n.next.Valid() {
			if err := r.setLink(ctx, tx, n.next, "prev_id", n.prev); err != nil {
				return err
			}
		}
	}

	if _, err := exec(ctx, tx, r.db.sb.Delete("spectrum_nodes").Where(sq.Eq{"id": int64(id)})); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	return nil
}

const maxLockAttempts = 3

// lockNeighbourhood locks id together with its neighbours in one id-ordered
// query, and the list row first when id is the head. It returns the links of
// id once they match what was locked.
func (r *Repository) lockNeighbourhood(ctx context.Context, tx *sql.Tx, id domain.NodeID) (link, error) {
	for range maxLockAttempts {
		seen, err := r.readNode(ctx, tx, id)
		if err != nil {
			return link{}, err
		}
		if seen.list == 0 {
			locked, err := r.lockNodes(ctx, tx, id)
			if err != nil {
				return link{}, err
			}
			if n, ok := locked[id]; ok && n.list == 0 {
				return n, nil
			}
			continue
		}

		var head domain.NodeID
		if !seen.prev.Valid() {
			list, err := r.getList(ctx, tx, seen.list, true)
			if err != nil {
				return link{}, err
			}
			head = list.Head
		}
		locked, err := r.lockNodes(ctx, tx, id, seen.prev, seen.next)
		if err != nil {
			return link{}, err
		}
		n, ok := locked[id]
		if !ok {
			return link{}, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
		}
		if n.list != seen.list || n.prev != seen.prev || n.next != seen.next {
			continue
		}
		if n.prev.Valid() {
			if p, ok := locked[n.prev]; !ok || p.next != id {
				return link{}, fmt.Errorf("node %d prev %d does not point back: %w", id, n.prev, spectrum.ErrBrokenChain)
			}
		} else if head != id {
			return link{}, fmt.Errorf("node %d has no prev but head is %d: %w", id, head, spectrum.ErrBrokenChain)
		}
		if n.next.Valid() {
			if nx, ok := locked[n.next]; !ok || nx.prev != id {
				return link{}, fmt.Errorf("node %d next %d does not point back: %w", id, n.next, spectrum.ErrBrokenChain)
			}
		}
		return n, nil
	}
	return link{}, fmt.Errorf("node %d kept moving while locking: %w", id, spectrum.ErrStalePosition)
}

// readNode reads the links of id without locking.
func (r *Repository) readNode(ctx context.Context, tx *sql.Tx, id domain.NodeID) (link, error) {
	row, err := queryRow(ctx, tx, r.db.sb.Select(nodeColumns...).From("spectrum_nodes").Where(sq.Eq{"id": int64(id)}))
	if err != nil {
		return link{}, err
	}
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return link{}, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return link{}, fmt.Errorf("read node %d: %w", id, err)
	}
	return link{list: n.ListID, prev: n.Prev, next: n.Next, key: n.SortKey}, nil
}

// Rebuild relinks the list in the order of ordered, reusing the nodes of items
// already in expected and inserting nodes for the rest.
func (r *Repository) Rebuild(ctx context.Context, id domain.ListID, expected *spectrum.Chain, ordered []domain.Item) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		list, err := r.getList(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if list.Head != expected.Head() {
			return fmt.Errorf("list %d head moved: %w", id, spectrum.ErrStalePosition)
		}

		current := map[domain.ItemID]domain.NodeID{}
		b := r.db.forUpdate(r.db.sb.Select(nodeColumns...).From("spectrum_nodes").Where(sq.Eq{"list_id": int64(id)}).OrderBy("id"))
		err = queryAll(ctx, tx, b, func(rows *sql.Rows) error {
			n, err := scanNode(rows)
			if err != nil {
				return fmt.Errorf("scan node: %w", err)
			}
			want, ok := expected.Node(n.ID)
			if !ok || want.Prev != n.Prev || want.Next != n.Next {
				return fmt.Errorf("list %d node %d changed: %w", id, n.ID, spectrum.ErrStalePosition)
			}
			current[n.ItemID] = n.ID
			return nil
		})
		if err != nil {
			return err
		}
		if len(current) != expected.Len() {
			return fmt.Errorf("list %d lost nodes: %w", id, spectrum.ErrStalePosition)
		}

		chain := make([]domain.NodeID, 0, len(ordered))
		seen := map[domain.ItemID]bool{}
		for _, item := range ordered {
			if seen[item.ID] {
				return fmt.Errorf("item %d listed twice: %w", item.ID, spectrum.ErrAlreadyRanked)
			}
			seen[item.ID] = true

			if node, ok := current[item.ID]; ok {
				chain = append(chain, node)
				continue
			}
			if err := r.verifyItem(ctx, tx, item); err != nil {
				return err
			}
			node, err := r.insertDetached(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			chain = append(chain, node)
		}
		for item := range current {
			if !seen[item] {
				return fmt.Errorf("rebuild of list %d drops item %d: %w", id, item, spectrum.ErrBrokenChain)
			}
		}

		for i, node := range chain {
			var prev, next domain.NodeID
			if i > 0 {
				prev = chain[i-1]
			}
			if i < len(chain)-1 {
				next = chain[i+1]
			}
			if err := r.attach(ctx, tx, node, id, prev, next, ptr(float64(i))); err != nil {
				return err
			}
		}

		var head domain.NodeID
		if len(chain) > 0 {
			head = chain[0]
		}
		return r.setHead(ctx, tx, id, head)
	})
}

// UnrankedItems lists in-scope items without a node in the list.
func (r *Repository) UnrankedItems(ctx context.Context, id domain.ListID) ([]domain.Item, error) {
	list, err := r.GetList(ctx, id)
	if err != nil {
		return nil, err
	}

	b := r.db.sb.Select(itemColumns("")...).From("items").
		Where(scopeFilter(list.Key.Scope)).
		Where("id NOT IN (SELECT item_id FROM spectrum_nodes WHERE list_id = ?)", int64(id)).
		OrderBy("id")
	items, err := r.queryItems(ctx, r.db.db, b)
	if err != nil {
		return nil, fmt.Errorf("unranked items of list %d: %w", id, err)
	}
	return items, nil
}
