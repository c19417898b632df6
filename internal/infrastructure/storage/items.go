package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/spectrum"
)

// Repository persists the ranking domain in Postgres or SQLite.
type Repository struct {
	db  *DB
	now func() time.Time
}

var (
	_ ports.ItemRepository       = (*Repository)(nil)
	_ ports.CriterionRepository  = (*Repository)(nil)
	_ ports.ContainerRepository  = (*Repository)(nil)
	_ ports.SpectrumStore        = (*Repository)(nil)
	_ ports.ComparisonRepository = (*Repository)(nil)
)

// NewRepository wires a DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// stamp is the current time at the precision timestamps are stored with.
func (r *Repository) stamp() time.Time {
	return fromMillis(millis(r.now()))
}

func itemColumns(prefix string) []string {
	cols := []string{"id", "statement", "actionable", "done", "archived", "container_id", "parent_item_id",
		"current_version_id", "created_at", "updated_at", "statement_updated_at", "completed_at"}
	for i := range cols {
		cols[i] = prefix + cols[i]
	}
	return cols
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, extra ...any) (domain.Item, error) {
	var (
		item                         domain.Item
		container, parent, version   sql.NullInt64
		created, updated, stmtUpdate int64
		completed                    sql.NullInt64
	)
	dest := []any{&item.ID, &item.Statement, &item.Actionable, &item.Done, &item.Archived, &container, &parent,
		&version, &created, &updated, &stmtUpdate, &completed}
	if err := row.Scan(append(extra, dest...)...); err != nil {
		return domain.Item{}, err
	}

	item.ContainerID = domain.ContainerID(container.Int64)
	item.ParentItemID = domain.ItemID(parent.Int64)
	item.VersionID = domain.VersionID(version.Int64)
	item.CreatedAt = fromMillis(created)
	item.UpdatedAt = fromMillis(updated)
	item.StatementUpdatedAt = fromMillis(stmtUpdate)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		item.CompletedAt = &t
	}
	return item, nil
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	return r.getItem(ctx, r.db.db, id, false)
}

func (r *Repository) getItem(ctx context.Context, q queryer, id domain.ItemID, lock bool) (domain.Item, error) {
	b := r.db.sb.Select(itemColumns("")...).From("items").Where(sq.Eq{"id": int64(id)})
	if lock {
		b = r.db.forUpdate(b)
	}
	row, err := queryRow(ctx, q, b)
	if err != nil {
		return domain.Item{}, err
	}
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item %d: %w", id, err)
	}
	return item, nil
}

// CreateItem stores a new item with its first statement version.
func (r *Repository) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	now := r.stamp()
	item.CreatedAt, item.UpdatedAt, item.StatementUpdatedAt = now, now, now
	if item.Done && item.CompletedAt == nil {
		item.CompletedAt = &now
	}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertID(ctx, tx, r.db.sb.Insert("items").
			Columns("statement", "actionable", "done", "archived", "container_id", "parent_item_id",
				"created_at", "updated_at", "statement_updated_at", "completed_at").
			Values(item.Statement, item.Actionable, item.Done, item.Archived, nullID(item.ContainerID), nullID(item.ParentItemID),
				millis(now), millis(now), millis(now), nullMillis(item.CompletedAt)))
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		item.ID = domain.ItemID(id)

		version, err := r.addVersion(ctx, tx, domain.OwnerItem, id, item.Statement, now)
		if err != nil {
			return err
		}
		item.VersionID = version
		_, err = exec(ctx, tx, r.db.sb.Update("items").Set("current_version_id", int64(version)).Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("set item version: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (r *Repository) addVersion(ctx context.Context, tx *sql.Tx, kind domain.OwnerKind, owner int64, statement string, at time.Time) (domain.VersionID, error) {
	id, err := insertID(ctx, tx, r.db.sb.Insert("statement_versions").
		Columns("owner_kind", "owner_id", "statement", "created_at").
		Values(string(kind), owner, statement, millis(at)))
	if err != nil {
		return 0, fmt.Errorf("insert statement version: %w", err)
	}
	return domain.VersionID(id), nil
}

// UpdateItem applies mutate to the persisted item in one transaction. A new
// statement creates a new version, and a ranking-relevant change removes the
// item's node from every list, repairing the neighbours.
func (r *Repository) UpdateItem(ctx context.Context, id domain.ItemID, mutate func(*domain.Item) error) (domain.ItemUpdate, error) {
	var update domain.ItemUpdate
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		before, err := r.getItem(ctx, tx, id, true)
		if err != nil {
			return err
		}

		after := before
		if err := mutate(&after); err != nil {
			return err
		}
		after.ID, after.VersionID, after.CreatedAt = before.ID, before.VersionID, before.CreatedAt

		update = domain.ItemUpdate{Before: before, After: after, Changed: spectrum.ChangedFields(before, after)}
		if len(update.Changed) == 0 && after.ParentItemID == before.ParentItemID {
			return nil
		}

		now := r.stamp()
		after.UpdatedAt = now
		if after.Statement != before.Statement {
			version, err := r.addVersion(ctx, tx, domain.OwnerItem, int64(id), after.Statement, now)
			if err != nil {
				return err
			}
			after.VersionID = version
			after.StatementUpdatedAt = now
		}
		if after.Done != before.Done {
			after.CompletedAt = nil
			if after.Done {
				after.CompletedAt = &now
			}
		}

		_, err = exec(ctx, tx, r.db.sb.Update("items").SetMap(map[string]any{
			"statement":            after.Statement,
			"actionable":           after.Actionable,
			"done":                 after.Done,
			"archived":             after.Archived,
			"container_id":         nullID(after.ContainerID),
			"parent_item_id":       nullID(after.ParentItemID),
			"current_version_id":   int64(after.VersionID),
			"updated_at":           millis(after.UpdatedAt),
			"statement_updated_at": millis(after.StatementUpdatedAt),
			"completed_at":         nullMillis(after.CompletedAt),
		}).Where(sq.Eq{"id": int64(id)}))
		if err != nil {
			return fmt.Errorf("update item %d: %w", id, err)
		}
		update.After = after

		if len(update.Changed) > 0 {
			n, err := r.detachItem(ctx, tx, id)
			if err != nil {
				return err
			}
			update.Invalidated = n
		}
		return nil
	})
	if err != nil {
		return domain.ItemUpdate{}, err
	}
	return update, nil
}

// DeleteItem removes the item's nodes with neighbour repair, then the item.
func (r *Repository) DeleteItem(ctx context.Context, id domain.ItemID) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.getItem(ctx, tx, id, true); err != nil {
			return err
		}
		if _, err := r.detachItem(ctx, tx, id); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, r.db.sb.Delete("items").Where(sq.Eq{"id": int64(id)})); err != nil {
			return fmt.Errorf("delete item %d: %w", id, err)
		}
		return nil
	})
}

// detachItem deletes every node bound to the item and returns how many there were.
func (r *Repository) detachItem(ctx context.Context, tx *sql.Tx, id domain.ItemID) (int, error) {
	var nodes []domain.NodeID
	err := queryAll(ctx, tx, r.db.sb.Select("id").From("spectrum_nodes").Where(sq.Eq{"item_id": int64(id)}).OrderBy("id"),
		func(rows *sql.Rows) error {
			var n int64
			if err := rows.Scan(&n); err != nil {
				return fmt.Errorf("scan node id: %w", err)
			}
			nodes = append(nodes, domain.NodeID(n))
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("list nodes of item %d: %w", id, err)
	}

	for _, n := range nodes {
		if err := r.deleteNode(ctx, tx, n); err != nil {
			return 0, err
		}
	}
	return len(nodes), nil
}

// ItemsInScope lists items matching scope, oldest first.
func (r *Repository) ItemsInScope(ctx context.Context, scope domain.Scope) ([]domain.Item, error) {
	b := r.db.sb.Select(itemColumns("")...).From("items").Where(scopeFilter(scope)).OrderBy("id")
	items, err := r.queryItems(ctx, r.db.db, b)
	if err != nil {
		return nil, fmt.Errorf("items in scope: %w", err)
	}
	return items, nil
}

func scopeFilter(scope domain.Scope) sq.And {
	filter := sq.And{}
	if scope.ContainerID == 0 {
		filter = append(filter, sq.Eq{"container_id": nil})
	} else {
		filter = append(filter, sq.Eq{"container_id": int64(scope.ContainerID)})
	}
	if scope.Actionable != nil {
		filter = append(filter, sq.Eq{"actionable": *scope.Actionable})
	}
	if !scope.IncludeDone {
		filter = append(filter, sq.Eq{"done": false})
	}
	if !scope.IncludeArchived {
		filter = append(filter, sq.Eq{"archived": false})
	}
	return filter
}

func (r *Repository) queryItems(ctx context.Context, q queryer, b sq.SelectBuilder) ([]domain.Item, error) {
	var items []domain.Item
	err := queryAll(ctx, q, b, func(rows *sql.Rows) error {
		item, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// GetContainer loads one container.
func (r *Repository) GetContainer(ctx context.Context, id domain.ContainerID) (domain.Container, error) {
	row, err := queryRow(ctx, r.db.db, r.db.sb.Select("id", "name", "parent_id", "created_at").From("containers").Where(sq.Eq{"id": int64(id)}))
	if err != nil {
		return domain.Container{}, err
	}

	var (
		c       domain.Container
		parent  sql.NullInt64
		created int64
	)
	err = row.Scan(&c.ID, &c.Name, &parent, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Container{}, fmt.Errorf("container %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Container{}, fmt.Errorf("get container %d: %w", id, err)
	}
	c.ParentID = domain.ContainerID(parent.Int64)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// CreateContainer stores a container; a zero parent means top level.
func (r *Repository) CreateContainer(ctx context.Context, name string, parent domain.ContainerID) (domain.Container, error) {
	now := r.stamp()
	id, err := insertID(ctx, r.db.db, r.db.sb.Insert("containers").
		Columns("name", "parent_id", "created_at").
		Values(name, nullID(parent), millis(now)))
	if err != nil {
		return domain.Container{}, fmt.Errorf("insert container: %w", err)
	}
	return domain.Container{ID: domain.ContainerID(id), Name: name, ParentID: parent, CreatedAt: now}, nil
}
