package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"SpectrumRanker/internal/domain"
)

var comparisonColumns = []string{"id", "model", "subject_version_id", "left_version_id", "right_version_id",
	"left_wins", "response", "latency_ms", "human", "created_at"}

func scanComparison(row rowScanner) (domain.ComparisonRecord, error) {
	var (
		rec     domain.ComparisonRecord
		latency int64
		created int64
	)
	err := row.Scan(&rec.ID, &rec.Model, &rec.Key.Subject, &rec.Key.Left, &rec.Key.Right,
		&rec.LeftWins, &rec.Response, &latency, &rec.Human, &created)
	if err != nil {
		return domain.ComparisonRecord{}, err
	}
	rec.Latency = time.Duration(latency) * time.Millisecond
	rec.CreatedAt = fromMillis(created)
	return rec, nil
}

func keyFilter(key domain.ComparisonKey) sq.Eq {
	return sq.Eq{
		"subject_version_id": int64(key.Subject),
		"left_version_id":    int64(key.Left),
		"right_version_id":   int64(key.Right),
	}
}

// LatestHuman returns the most recent human record for key.
func (r *Repository) LatestHuman(ctx context.Context, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error) {
	return r.latestComparison(ctx, sq.And{keyFilter(key), sq.Eq{"human": true}})
}

// Latest returns the most recent record for key made by model.
func (r *Repository) Latest(ctx context.Context, model string, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error) {
	return r.latestComparison(ctx, sq.And{keyFilter(key), sq.Eq{"model": model}})
}

func (r *Repository) latestComparison(ctx context.Context, where sq.Sqlizer) (domain.ComparisonRecord, bool, error) {
	row, err := queryRow(ctx, r.db.db, r.db.sb.Select(comparisonColumns...).From("comparisons").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(1))
	if err != nil {
		return domain.ComparisonRecord{}, false, err
	}
	rec, err := scanComparison(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ComparisonRecord{}, false, nil
	}
	if err != nil {
		return domain.ComparisonRecord{}, false, fmt.Errorf("latest comparison: %w", err)
	}
	return rec, true, nil
}

// SaveComparison appends a record.
func (r *Repository) SaveComparison(ctx context.Context, rec domain.ComparisonRecord) (domain.ComparisonRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.stamp()
	}
	id, err := insertID(ctx, r.db.db, r.db.sb.Insert("comparisons").
		Columns("model", "subject_version_id", "left_version_id", "right_version_id",
			"left_wins", "response", "latency_ms", "human", "created_at").
		Values(rec.Model, int64(rec.Key.Subject), int64(rec.Key.Left), int64(rec.Key.Right),
			rec.LeftWins, rec.Response, rec.Latency.Milliseconds(), rec.Human, millis(rec.CreatedAt)))
	if err != nil {
		return domain.ComparisonRecord{}, fmt.Errorf("insert comparison: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = fromMillis(millis(rec.CreatedAt))
	return rec, nil
}

// Decisions returns the latest record per key for model, oldest key first.
func (r *Repository) Decisions(ctx context.Context, model string) ([]domain.ComparisonRecord, error) {
	latest := map[domain.ComparisonKey]domain.ComparisonRecord{}
	b := r.db.sb.Select(comparisonColumns...).From("comparisons").
		Where(sq.Eq{"model": model}).
		OrderBy("created_at", "id")
	err := queryAll(ctx, r.db.db, b, func(rows *sql.Rows) error {
		rec, err := scanComparison(rows)
		if err != nil {
			return fmt.Errorf("scan comparison: %w", err)
		}
		latest[rec.Key] = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decisions of %s: %w", model, err)
	}

	out := make([]domain.ComparisonRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
