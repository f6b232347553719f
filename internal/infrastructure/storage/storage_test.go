package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigestCurator/internal/domain"
)

func createTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDigest(t *testing.T, repo *Repository, sourceID string, createdAt time.Time) domain.Digest {
	t.Helper()

	d := domain.Digest{
		SourceType: "rss",
		SourceID:   sourceID,
		Title:      "Title " + sourceID,
		Summary:    "Summary " + sourceID,
		URL:        "https://example.org/" + sourceID,
		CreatedAt:  createdAt,
	}
	created, err := repo.CreateDigest(context.Background(), d)
	require.NoError(t, err)
	require.True(t, created)
	d.ID = domain.DigestID(d.SourceType, d.SourceID)
	return d
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
}

func TestPlaceholderFormatFollowsDialect(t *testing.T) {
	t.Parallel()

	cases := map[Dialect]string{
		DialectSQLite:   "SELECT id FROM users WHERE email = ?",
		DialectPostgres: "SELECT id FROM users WHERE email = $1",
	}
	for dialect, want := range cases {
		repo := NewRepository(nil, dialect)
		query, args, err := repo.sb.Select("id").From("users").Where(sq.Eq{"email": "ada@example.org"}).ToSql()
		require.NoError(t, err)
		assert.Equal(t, want, query, string(dialect))
		assert.Equal(t, []any{"ada@example.org"}, args)
	}
}

func TestLedgerRecordIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)
	ledger := NewLedger(repo, quietLogger())
	d := seedDigest(t, repo, "1", time.Now())

	first, isNew, err := ledger.Record(ctx, "user-a", d.ID, 0.9, 1, "matches interests")
	require.NoError(t, err)
	assert.True(t, isNew)

	second, isNew, err := ledger.Record(ctx, "user-a", d.ID, 0.1, 7, "different")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.9, second.Score, 1e-9)
	assert.Equal(t, 1, second.Rank)
	assert.Equal(t, "matches interests", second.Reasoning)

	recs, err := ledger.ForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, isNew, err = ledger.Record(ctx, "user-b", d.ID, 0.5, 1, "")
	require.NoError(t, err)
	assert.True(t, isNew, "pairs are per user")
}

func TestLedgerRejectsMissingDigest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)
	ledger := NewLedger(repo, quietLogger())

	_, isNew, err := ledger.Record(ctx, "user-a", "rss:missing", 0.9, 1, "")
	require.ErrorIs(t, err, domain.ErrDigestNotFound)
	assert.False(t, isNew)

	existing, err := ledger.ExistingFor(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestLedgerExistingFor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)
	ledger := NewLedger(repo, quietLogger())
	d1 := seedDigest(t, repo, "1", time.Now())
	d2 := seedDigest(t, repo, "2", time.Now())
	seedDigest(t, repo, "3", time.Now())

	for _, id := range []string{d1.ID, d2.ID} {
		_, _, err := ledger.Record(ctx, "user-a", id, 0.5, 1, "")
		require.NoError(t, err)
	}

	existing, err := ledger.ExistingFor(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{d1.ID: {}, d2.ID: {}}, existing)

	other, err := ledger.ExistingFor(ctx, "user-b")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestLedgerOrphansAndPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)
	ledger := NewLedger(repo, quietLogger())
	keep := seedDigest(t, repo, "keep", time.Now())
	gone := seedDigest(t, repo, "gone", time.Now())

	_, _, err := ledger.Record(ctx, "user-a", keep.ID, 0.5, 1, "")
	require.NoError(t, err)
	orphan, _, err := ledger.Record(ctx, "user-a", gone.ID, 0.5, 2, "")
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, `DELETE FROM digests WHERE id = ?`, gone.ID)
	require.NoError(t, err)

	orphans, err := ledger.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)

	n, err := ledger.Purge(ctx, []string{orphan.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	orphans, err = ledger.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRecentDigestsAndMarkSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := seedDigest(t, repo, "old", now.Add(-48*time.Hour))
	fresh := seedDigest(t, repo, "fresh", now.Add(-2*time.Hour))
	newest := seedDigest(t, repo, "newest", now.Add(-time.Hour))

	created, err := repo.CreateDigest(ctx, domain.Digest{SourceType: "rss", SourceID: "fresh", Title: "dup", Summary: "dup"})
	require.NoError(t, err)
	assert.False(t, created)

	recent, err := repo.RecentDigests(ctx, now.Add(-24*time.Hour), false)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, newest.ID, recent[0].ID)
	assert.Equal(t, fresh.ID, recent[1].ID)
	assert.Equal(t, "Title fresh", recent[1].Title)

	marked, err := repo.MarkDigestsSent(ctx, []string{fresh.ID, old.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	marked, err = repo.MarkDigestsSent(ctx, []string{fresh.ID}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, marked, "sent_at is only stamped once")

	unsent, err := repo.RecentDigests(ctx, now.Add(-24*time.Hour), true)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, newest.ID, unsent[0].ID)

	got, err := repo.GetDigest(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))

	_, err = repo.GetDigest(ctx, "rss:nope")
	require.ErrorIs(t, err, domain.ErrDigestNotFound)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)

	_, ok, err := repo.LatestRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	run, err := repo.CreateRun(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	require.NoError(t, repo.AppendRunLog(ctx, run.ID, "Processing user a@example.org", start.Add(3*time.Second)))
	require.NoError(t, repo.AppendRunLog(ctx, run.ID, "done", start.Add(65*time.Second)))
	require.NoError(t, repo.SetUsersProcessed(ctx, run.ID, 2))

	mid, ok, err := repo.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Pipeline started...\n[09:05:03] Processing user a@example.org\n[09:06:05] done", mid.LogSummary)
	assert.Equal(t, 2, mid.UsersProcessed)
	assert.Nil(t, mid.EndedAt)
	assert.Nil(t, mid.Result)

	result := domain.RunResult{
		Ingest:          domain.StageReport{Skipped: true},
		Enrich:          domain.StageReport{Processed: 3, Failed: 1, Total: 4},
		UsersProcessed:  3,
		Recommendations: 2,
		Deliveries:      1,
	}
	require.NoError(t, repo.FinishRun(ctx, run.ID, domain.RunStatusSuccess, result, start.Add(2*time.Minute)))

	done, ok, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusSuccess, done.Status)
	assert.Equal(t, 3, done.UsersProcessed)
	require.NotNil(t, done.EndedAt)
	assert.True(t, done.EndedAt.Equal(start.Add(2*time.Minute)))
	require.NotNil(t, done.Result)
	assert.Equal(t, result.Enrich, done.Result.Enrich)
	assert.True(t, done.Result.Ingest.Skipped)

	later, err := repo.CreateRun(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	latest, _, err := repo.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, later.ID, latest.ID)
}

func TestMarkers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)

	_, ok, err := repo.Marker(ctx, "last_ingest_at")
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetMarker(ctx, "last_ingest_at", first))
	require.NoError(t, repo.SetMarker(ctx, "last_ingest_at", first.Add(time.Hour)))

	got, ok, err := repo.Marker(ctx, "last_ingest_at")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(first.Add(time.Hour)))
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)

	admin, err := repo.SaveUser(ctx, domain.User{
		Email:          "ada@example.org",
		Name:           "Ada",
		Title:          "ML Engineer",
		ExpertiseLevel: "advanced",
		Interests:      []string{"agents", "evals"},
		Preferences:    map[string]string{"format": "short"},
		Active:         true,
		Role:           domain.RoleAdmin,
	})
	require.NoError(t, err)
	assert.True(t, admin.NeedsAdminWelcome())

	_, err = repo.SaveUser(ctx, domain.User{Email: "off@example.org", Name: "Off", Active: false})
	require.NoError(t, err)

	active, err := repo.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"agents", "evals"}, active[0].Interests)
	assert.Equal(t, "short", active[0].Preferences["format"])

	require.NoError(t, repo.MarkAdminWelcomeSent(ctx, admin.ID))
	reloaded, err := repo.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AdminWelcomeSent)
	assert.False(t, reloaded.NeedsAdminWelcome())

	updated, err := repo.SaveUser(ctx, domain.User{Email: "ada@example.org", Name: "Ada L.", Active: true, Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, admin.ID, updated.ID)
	assert.True(t, updated.AdminWelcomeSent, "upsert keeps the welcome flag")

	_, err = repo.GetUser(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	require.ErrorIs(t, repo.MarkAdminWelcomeSent(ctx, "missing"), domain.ErrUserNotFound)
}

func TestArticleQueues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)

	articles := []domain.Article{
		{SourceType: "rss", SourceID: "a", Title: "A", URL: "https://example.org/a"},
		{SourceType: "rss", SourceID: "b", Title: "B", URL: "https://example.org/b", Content: "already here"},
		{SourceType: "arxiv", SourceID: "c", Title: "C"},
	}
	n, err := repo.SaveArticles(ctx, articles)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.SaveArticles(ctx, articles[:1])
	require.NoError(t, err)
	assert.Zero(t, n)

	missing, err := repo.ArticlesWithoutContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "a", missing[0].SourceID)

	require.NoError(t, repo.UpdateArticleContent(ctx, "rss", "a", "page text"))
	missing, err = repo.ArticlesWithoutContent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	pending, err := repo.ArticlesWithoutDigest(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	seedDigest(t, repo, "a", time.Now())
	pending, err = repo.ArticlesWithoutDigest(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, a := range pending {
		assert.NotEqual(t, "rss:a", a.DigestID())
	}
}

func TestVideoTranscriptQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := createTestRepo(t)

	_, err := repo.SaveArticles(ctx, []domain.Article{
		{SourceType: domain.SourceTypeVideo, SourceID: "vid1", Title: "Talk 1", URL: "https://www.youtube.com/watch?v=vid1"},
		{SourceType: domain.SourceTypeVideo, SourceID: "vid2", Title: "Talk 2", URL: "https://www.youtube.com/watch?v=vid2"},
		{SourceType: "rss", SourceID: "post", Title: "Post", URL: "https://example.org/post"},
	})
	require.NoError(t, err)

	pages, err := repo.ArticlesWithoutContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1, "videos are not page-enriched")
	assert.Equal(t, "post", pages[0].SourceID)

	videos, err := repo.VideosWithoutTranscript(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, videos, 2)

	pending, err := repo.ArticlesWithoutDigest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "videos wait for a transcript before summarizing")
	assert.Equal(t, "rss:post", pending[0].DigestID())

	require.NoError(t, repo.UpdateArticleContent(ctx, domain.SourceTypeVideo, "vid1", "transcript text"))
	require.NoError(t, repo.UpdateArticleContent(ctx, domain.SourceTypeVideo, "vid2", domain.TranscriptUnavailable))

	videos, err = repo.VideosWithoutTranscript(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, videos)

	pending, err = repo.ArticlesWithoutDigest(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.DigestID())
	}
	assert.ElementsMatch(t, []string{"rss:post", "youtube:vid1"}, ids)
}
