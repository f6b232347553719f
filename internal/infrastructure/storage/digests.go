package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"DigestCurator/internal/domain"
)

var digestColumns = []string{"id", "source_type", "source_id", "title", "summary", "url", "created_at", "sent_at"}

// CreateDigest stores a digest; false means one with the same id already existed.
func (r *Repository) CreateDigest(ctx context.Context, d domain.Digest) (bool, error) {
	if d.ID == "" {
		d.ID = domain.DigestID(d.SourceType, d.SourceID)
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	res, err := exec(ctx, r.db, r.sb.Insert("digests").
		Columns(digestColumns...).
		Values(d.ID, d.SourceType, d.SourceID, d.Title, d.Summary, d.URL, created.UTC(), nullTime(d.SentAt)).
		Suffix("ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert digest %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetDigest loads one digest by id.
func (r *Repository) GetDigest(ctx context.Context, id string) (domain.Digest, error) {
	row, err := queryRow(ctx, r.db, r.sb.Select(digestColumns...).From("digests").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Digest{}, err
	}
	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Digest{}, domain.ErrDigestNotFound
	}
	return d, err
}

// RecentDigests returns digests created at or after since, newest first.
func (r *Repository) RecentDigests(ctx context.Context, since time.Time, excludeSent bool) ([]domain.Digest, error) {
	q := r.sb.Select(digestColumns...).
		From("digests").
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		OrderBy("created_at DESC", "id ASC")
	if excludeSent {
		q = q.Where(sq.Eq{"sent_at": nil})
	}

	rows, err := queryRows(ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("query recent digests: %w", err)
	}
	defer rows.Close()

	var out []domain.Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// MarkDigestsSent stamps sent_at on digests that were not sent before.
func (r *Repository) MarkDigestsSent(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := exec(ctx, r.db, r.sb.Update("digests").
		Set("sent_at", at.UTC()).
		Where(sq.Eq{"id": ids}).
		Where(sq.Eq{"sent_at": nil}))
	if err != nil {
		return 0, fmt.Errorf("mark digests sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDigest(row rowScanner) (domain.Digest, error) {
	var (
		d       domain.Digest
		created sql.NullTime
		sent    sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.SourceType, &d.SourceID, &d.Title, &d.Summary, &d.URL, &created, &sent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Digest{}, err
		}
		return domain.Digest{}, fmt.Errorf("scan digest: %w", err)
	}
	d.CreatedAt = created.Time.UTC()
	d.SentAt = timePtr(sent)
	return d, nil
}
