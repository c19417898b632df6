package storage

import (
	"context"
	"fmt"
	"strings"
)

// prev/next/head are plain ids without foreign keys: neighbours are weak
// references repaired by the store, never by cascades.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS containers (
		id {{pk}},
		name TEXT NOT NULL,
		parent_id BIGINT REFERENCES containers(id) ON DELETE SET NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id {{pk}},
		statement TEXT NOT NULL,
		actionable BOOLEAN NOT NULL DEFAULT FALSE,
		done BOOLEAN NOT NULL DEFAULT FALSE,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		container_id BIGINT REFERENCES containers(id) ON DELETE SET NULL,
		parent_item_id BIGINT REFERENCES items(id) ON DELETE SET NULL,
		current_version_id BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		statement_updated_at BIGINT NOT NULL,
		completed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS items_container_idx ON items (container_id)`,
	`CREATE TABLE IF NOT EXISTS statement_versions (
		id {{pk}},
		owner_kind TEXT NOT NULL,
		owner_id BIGINT NOT NULL,
		statement TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS statement_versions_owner_idx ON statement_versions (owner_kind, owner_id)`,
	`CREATE TABLE IF NOT EXISTS criteria (
		id {{pk}},
		name TEXT NOT NULL UNIQUE,
		current_version_id BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS spectrum_lists (
		id {{pk}},
		criterion_version_id BIGINT NOT NULL,
		model TEXT NOT NULL,
		container_id BIGINT NOT NULL DEFAULT 0,
		actionable_filter INTEGER NOT NULL DEFAULT -1,
		include_done BOOLEAN NOT NULL DEFAULT FALSE,
		include_archived BOOLEAN NOT NULL DEFAULT FALSE,
		evaluative BOOLEAN NOT NULL DEFAULT FALSE,
		head_id BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS spectrum_lists_key_idx ON spectrum_lists
		(criterion_version_id, model, container_id, actionable_filter, include_done, include_archived, evaluative)`,
	`CREATE TABLE IF NOT EXISTS spectrum_nodes (
		id {{pk}},
		list_id BIGINT REFERENCES spectrum_lists(id) ON DELETE CASCADE,
		item_id BIGINT NOT NULL REFERENCES items(id),
		data DOUBLE PRECISION,
		prev_id BIGINT,
		next_id BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS spectrum_nodes_list_item_idx ON spectrum_nodes (list_id, item_id)`,
	`CREATE INDEX IF NOT EXISTS spectrum_nodes_item_idx ON spectrum_nodes (item_id)`,
	`CREATE TABLE IF NOT EXISTS comparisons (
		id {{pk}},
		model TEXT NOT NULL,
		subject_version_id BIGINT NOT NULL,
		left_version_id BIGINT NOT NULL,
		right_version_id BIGINT NOT NULL,
		left_wins BOOLEAN NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		latency_ms BIGINT NOT NULL DEFAULT 0,
		human BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comparisons_key_idx ON comparisons
		(subject_version_id, left_version_id, right_version_id, model)`,
}

// Migrate creates missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{pk}}", pk)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
