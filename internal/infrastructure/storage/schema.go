package storage

import (
	"context"
	"fmt"
	"strings"
)

func (r *Repository) migrate(ctx context.Context) error {
	tsType, floatType := "TIMESTAMP", "REAL"
	if r.dialect == DialectPostgres {
		tsType, floatType = "TIMESTAMPTZ", "DOUBLE PRECISION"
	}
	replacer := strings.NewReplacer("{ts}", tsType, "{real}", floatType)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			source_type  TEXT NOT NULL,
			source_id    TEXT NOT NULL,
			title        TEXT NOT NULL,
			url          TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL DEFAULT '',
			published_at {ts} NOT NULL,
			created_at   {ts} NOT NULL,
			PRIMARY KEY (source_type, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS digests (
			id          TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id   TEXT NOT NULL,
			title       TEXT NOT NULL,
			summary     TEXT NOT NULL,
			url         TEXT NOT NULL DEFAULT '',
			created_at  {ts} NOT NULL,
			sent_at     {ts} NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_digests_created_at ON digests (created_at)`,
		`CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			email              TEXT NOT NULL UNIQUE,
			name               TEXT NOT NULL DEFAULT '',
			title              TEXT NOT NULL DEFAULT '',
			expertise_level    TEXT NOT NULL DEFAULT '',
			interests          TEXT NOT NULL DEFAULT '[]',
			preferences        TEXT NOT NULL DEFAULT '{}',
			active             BOOLEAN NOT NULL DEFAULT TRUE,
			role               TEXT NOT NULL DEFAULT 'user',
			admin_welcome_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at         {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recommendations (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			digest_id       TEXT NOT NULL,
			relevance_score {real} NOT NULL,
			rank            INTEGER NOT NULL,
			reasoning       TEXT NOT NULL DEFAULT '',
			created_at      {ts} NOT NULL,
			UNIQUE (user_id, digest_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id              TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			start_time      {ts} NOT NULL,
			end_time        {ts} NULL,
			log_summary     TEXT NOT NULL DEFAULT '',
			users_processed INTEGER NOT NULL DEFAULT 0,
			result          TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_start ON pipeline_runs (start_time)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at {ts} NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, replacer.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
