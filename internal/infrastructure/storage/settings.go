package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Marker reads a timestamp setting; false when it was never written.
func (r *Repository) Marker(ctx context.Context, key string) (time.Time, bool, error) {
	row, err := queryRow(ctx, r.db, r.sb.Select("value").From("app_settings").Where(sq.Eq{"key": key}))
	if err != nil {
		return time.Time{}, false, err
	}

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read marker %s: %w", key, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse marker %s: %w", key, err)
	}
	return t, true, nil
}

// SetMarker upserts a timestamp setting.
func (r *Repository) SetMarker(ctx context.Context, key string, at time.Time) error {
	_, err := exec(ctx, r.db, r.sb.Insert("app_settings").
		Columns("key", "value", "updated_at").
		Values(key, at.UTC().Format(time.RFC3339Nano), r.now().UTC()).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"))
	if err != nil {
		return fmt.Errorf("write marker %s: %w", key, err)
	}
	return nil
}
