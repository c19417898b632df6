package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"SpectrumRanker/internal/domain"
)

// GetCriterion loads a criterion with its current statement.
func (r *Repository) GetCriterion(ctx context.Context, id domain.CriterionID) (domain.Criterion, error) {
	row, err := queryRow(ctx, r.db.db, r.db.sb.
		Select("c.id", "c.name", "c.current_version_id", "v.statement", "c.created_at").
		From("criteria c").
		Join("statement_versions v ON v.id = c.current_version_id").
		Where(sq.Eq{"c.id": int64(id)}))
	if err != nil {
		return domain.Criterion{}, err
	}

	var (
		c       domain.Criterion
		created int64
	)
	err = row.Scan(&c.ID, &c.Name, &c.VersionID, &c.Statement, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Criterion{}, fmt.Errorf("criterion %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Criterion{}, fmt.Errorf("get criterion %d: %w", id, err)
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// CreateCriterion stores a criterion and its first statement version.
func (r *Repository) CreateCriterion(ctx context.Context, name, statement string) (domain.Criterion, error) {
	now := r.stamp()
	c := domain.Criterion{Name: name, Statement: statement, CreatedAt: now}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertID(ctx, tx, r.db.sb.Insert("criteria").Columns("name", "created_at").Values(name, millis(now)))
		if err != nil {
			return fmt.Errorf("insert criterion: %w", err)
		}
		c.ID = domain.CriterionID(id)
		c.VersionID, err = r.setCriterionStatement(ctx, tx, c.ID, statement)
		return err
	})
	if err != nil {
		return domain.Criterion{}, err
	}
	return c, nil
}

// UpdateCriterionStatement records a new statement version. Lists built
// against older versions are left alone; runs use the current version.
func (r *Repository) UpdateCriterionStatement(ctx context.Context, id domain.CriterionID, statement string) (domain.Criterion, error) {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		row, err := queryRow(ctx, tx, r.db.forUpdate(r.db.sb.Select("id").From("criteria").Where(sq.Eq{"id": int64(id)})))
		if err != nil {
			return err
		}
		var found int64
		if err := row.Scan(&found); errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("criterion %d: %w", id, domain.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("lock criterion %d: %w", id, err)
		}
		_, err = r.setCriterionStatement(ctx, tx, id, statement)
		return err
	})
	if err != nil {
		return domain.Criterion{}, err
	}
	return r.GetCriterion(ctx, id)
}

func (r *Repository) setCriterionStatement(ctx context.Context, tx *sql.Tx, id domain.CriterionID, statement string) (domain.VersionID, error) {
	version, err := r.addVersion(ctx, tx, domain.OwnerCriterion, int64(id), statement, r.stamp())
	if err != nil {
		return 0, err
	}
	_, err = exec(ctx, tx, r.db.sb.Update("criteria").Set("current_version_id", int64(version)).Where(sq.Eq{"id": int64(id)}))
	if err != nil {
		return 0, fmt.Errorf("set criterion version: %w", err)
	}
	return version, nil
}
