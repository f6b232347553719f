package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/metrics"
	"DigestCurator/internal/ports"
)

var recommendationColumns = []string{"id", "user_id", "digest_id", "relevance_score", "rank", "reasoning", "created_at"}

// Ledger is the single writer of recommendations.
type Ledger struct {
	repo   *Repository
	logger *slog.Logger
}

var (
	_ ports.Ledger            = (*Ledger)(nil)
	_ ports.LedgerMaintenance = (*Ledger)(nil)
)

// NewLedger wraps the repository connection.
func NewLedger(repo *Repository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger}
}

// Record inserts the (user, digest) pair once. Repeated calls return the
// stored row with isNew=false. Unknown digests are rejected.
func (l *Ledger) Record(ctx context.Context, userID, digestID string, score float64, rank int, reasoning string) (domain.Recommendation, bool, error) {
	r := l.repo

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recommendation{}, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := queryRow(ctx, tx, r.sb.Select("1").From("digests").Where(sq.Eq{"id": digestID}))
	if err != nil {
		return domain.Recommendation{}, false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.logger.Warn("rejected recommendation for missing digest",
				"user_id", userID,
				"digest_id", digestID)
			metrics.LedgerRecords.WithLabelValues("rejected").Inc()
			return domain.Recommendation{}, false, fmt.Errorf("record %s for user %s: %w", digestID, userID, domain.ErrDigestNotFound)
		}
		return domain.Recommendation{}, false, fmt.Errorf("check digest: %w", err)
	}

	rec := domain.Recommendation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		DigestID:  digestID,
		Score:     score,
		Rank:      rank,
		Reasoning: reasoning,
		CreatedAt: r.now().UTC(),
	}

	res, err := exec(ctx, tx, r.sb.Insert("recommendations").
		Columns(recommendationColumns...).
		Values(rec.ID, rec.UserID, rec.DigestID, rec.Score, rec.Rank, rec.Reasoning, rec.CreatedAt).
		Suffix("ON CONFLICT (user_id, digest_id) DO NOTHING"))
	if err != nil {
		return domain.Recommendation{}, false, fmt.Errorf("insert recommendation: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Recommendation{}, false, fmt.Errorf("rows affected: %w", err)
	}

	isNew := inserted > 0
	if !isNew {
		row, err := queryRow(ctx, tx, r.sb.Select(recommendationColumns...).
			From("recommendations").
			Where(sq.Eq{"user_id": userID, "digest_id": digestID}))
		if err != nil {
			return domain.Recommendation{}, false, err
		}
		rec, err = scanRecommendation(row)
		if err != nil {
			return domain.Recommendation{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Recommendation{}, false, fmt.Errorf("commit: %w", err)
	}

	if isNew {
		metrics.LedgerRecords.WithLabelValues("created").Inc()
	} else {
		metrics.LedgerRecords.WithLabelValues("existing").Inc()
	}
	return rec, isNew, nil
}

// ExistingFor returns every digest id already recommended to the user.
func (l *Ledger) ExistingFor(ctx context.Context, userID string) (map[string]struct{}, error) {
	r := l.repo
	rows, err := queryRows(ctx, r.db, r.sb.Select("digest_id").From("recommendations").Where(sq.Eq{"user_id": userID}))
	if err != nil {
		return nil, fmt.Errorf("query existing recommendations: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan digest id: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return seen, nil
}

// ForUser lists a user's recommendations, best rank first.
func (l *Ledger) ForUser(ctx context.Context, userID string) ([]domain.Recommendation, error) {
	return l.list(ctx, l.repo.sb.Select(recommendationColumns...).
		From("recommendations").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC", "rank ASC"))
}

// Orphans lists recommendations whose digest no longer exists.
func (l *Ledger) Orphans(ctx context.Context) ([]domain.Recommendation, error) {
	cols := make([]string, len(recommendationColumns))
	for i, c := range recommendationColumns {
		cols[i] = "r." + c
	}
	return l.list(ctx, l.repo.sb.Select(cols...).
		From("recommendations r").
		LeftJoin("digests d ON d.id = r.digest_id").
		Where(sq.Eq{"d.id": nil}).
		OrderBy("r.created_at ASC"))
}

// Purge deletes recommendations by id and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := exec(ctx, l.repo.db, l.repo.sb.Delete("recommendations").Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, fmt.Errorf("delete recommendations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	l.logger.Warn("purged recommendations", "count", n)
	return int(n), nil
}

func (l *Ledger) list(ctx context.Context, q sq.SelectBuilder) ([]domain.Recommendation, error) {
	rows, err := queryRows(ctx, l.repo.db, q)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanRecommendation(row rowScanner) (domain.Recommendation, error) {
	var (
		rec     domain.Recommendation
		created sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.DigestID, &rec.Score, &rec.Rank, &rec.Reasoning, &created); err != nil {
		return domain.Recommendation{}, fmt.Errorf("scan recommendation: %w", err)
	}
	rec.CreatedAt = created.Time.UTC()
	return rec, nil
}
