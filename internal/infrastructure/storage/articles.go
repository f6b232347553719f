package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"DigestCurator/internal/domain"
)

var articleColumns = []string{
	"a.source_type", "a.source_id", "a.title", "a.url", "a.description",
	"a.content", "a.source", "a.published_at", "a.created_at",
}

// SaveArticles inserts new articles and ignores ones already stored.
func (r *Repository) SaveArticles(ctx context.Context, articles []domain.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now().UTC()
	inserted := 0
	for _, a := range articles {
		published := a.PublishedAt
		if published.IsZero() {
			published = now
		}
		res, err := exec(ctx, tx, r.sb.Insert("articles").
			Columns("source_type", "source_id", "title", "url", "description", "content", "source", "published_at", "created_at").
			Values(a.SourceType, a.SourceID, a.Title, a.URL, a.Description, a.Content, a.Source, published.UTC(), now).
			Suffix("ON CONFLICT (source_type, source_id) DO NOTHING"))
		if err != nil {
			return 0, fmt.Errorf("insert article %s: %w", a.DigestID(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ArticlesWithoutContent lists linked articles still missing page text.
// Videos are excluded; their content is the transcript.
func (r *Repository) ArticlesWithoutContent(ctx context.Context, limit int) ([]domain.Article, error) {
	q := r.sb.Select(articleColumns...).
		From("articles a").
		Where(sq.Eq{"a.content": ""}).
		Where(sq.NotEq{"a.url": ""}).
		Where(sq.NotEq{"a.source_type": domain.SourceTypeVideo}).
		OrderBy("a.created_at ASC").
		Limit(uint64(limit))
	return r.listArticles(ctx, q)
}

// VideosWithoutTranscript lists videos whose transcript was never attempted.
func (r *Repository) VideosWithoutTranscript(ctx context.Context, limit int) ([]domain.Article, error) {
	q := r.sb.Select(articleColumns...).
		From("articles a").
		Where(sq.Eq{"a.source_type": domain.SourceTypeVideo, "a.content": ""}).
		OrderBy("a.created_at ASC").
		Limit(uint64(limit))
	return r.listArticles(ctx, q)
}

// UpdateArticleContent stores extracted page text.
func (r *Repository) UpdateArticleContent(ctx context.Context, sourceType, sourceID, content string) error {
	_, err := exec(ctx, r.db, r.sb.Update("articles").
		Set("content", content).
		Where(sq.Eq{"source_type": sourceType, "source_id": sourceID}))
	if err != nil {
		return fmt.Errorf("update article content: %w", err)
	}
	return nil
}

// ArticlesWithoutDigest lists articles that have not been summarized yet.
// Videos qualify only once a transcript is stored.
func (r *Repository) ArticlesWithoutDigest(ctx context.Context, limit int) ([]domain.Article, error) {
	q := r.sb.Select(articleColumns...).
		From("articles a").
		LeftJoin("digests d ON d.id = a.source_type || ':' || a.source_id").
		Where(sq.Eq{"d.id": nil}).
		Where(sq.Or{
			sq.NotEq{"a.source_type": domain.SourceTypeVideo},
			sq.NotEq{"a.content": []string{"", domain.TranscriptUnavailable}},
		}).
		OrderBy("a.created_at ASC").
		Limit(uint64(limit))
	return r.listArticles(ctx, q)
}

func (r *Repository) listArticles(ctx context.Context, q sq.SelectBuilder) ([]domain.Article, error) {
	rows, err := queryRows(ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var (
			a                    domain.Article
			published, createdAt sql.NullTime
		)
		if err := rows.Scan(&a.SourceType, &a.SourceID, &a.Title, &a.URL, &a.Description,
			&a.Content, &a.Source, &published, &createdAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.PublishedAt = published.Time.UTC()
		a.CreatedAt = createdAt.Time.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
