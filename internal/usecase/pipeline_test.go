package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/infrastructure/storage"
)

type fakeRanker struct {
	mu       sync.Mutex
	picks    map[string][]string
	strict   bool
	panicFor string
	seen     map[string][][]string
}

func newFakeRanker(picks map[string][]string) *fakeRanker {
	return &fakeRanker{picks: picks, strict: true, seen: map[string][][]string{}}
}

func (r *fakeRanker) Rank(_ context.Context, candidates []domain.Digest, profile domain.Profile) ([]domain.RankedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(candidates))
	byID := make(map[string]domain.Digest, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
		byID[d.ID] = d
	}
	r.seen[profile.Name] = append(r.seen[profile.Name], ids)

	if profile.Name == r.panicFor {
		panic("ranker exploded")
	}

	var out []domain.RankedItem
	for _, id := range r.picks[profile.Name] {
		d, ok := byID[id]
		if !ok {
			if r.strict {
				continue
			}
			d = domain.Digest{ID: id}
		}
		out = append(out, domain.RankedItem{
			Digest:    d,
			Score:     1 - float64(len(out))/10,
			Rank:      len(out) + 1,
			Reasoning: "fits " + profile.Name,
		})
	}
	return out, nil
}

type sentDigest struct {
	email string
	ids   []string
}

type fakeMailer struct {
	mu         sync.Mutex
	failFor    map[string]bool
	welcomeErr error
	sent       []sentDigest
	welcomes   []string
}

func (m *fakeMailer) SendDigest(_ context.Context, user domain.User, _ domain.Profile, items []domain.RankedItem) domain.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFor[user.Email] {
		return domain.DeliveryResult{Error: "smtp: 550 mailbox unavailable"}
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Digest.ID
	}
	m.sent = append(m.sent, sentDigest{email: user.Email, ids: ids})
	return domain.DeliveryResult{Success: true}
}

func (m *fakeMailer) SendAdminWelcome(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.welcomeErr != nil {
		return m.welcomeErr
	}
	m.welcomes = append(m.welcomes, user.Email)
	return nil
}

type countingStage struct {
	calls  int
	report domain.StageReport
	err    error
}

func (s *countingStage) Process(context.Context) (domain.StageReport, error) {
	s.calls++
	return s.report, s.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type pipelineFixture struct {
	repo   *storage.Repository
	ledger *storage.Ledger
	ranker *fakeRanker
	mailer *fakeMailer
	ingest *countingStage
	now    time.Time
	sleeps []time.Duration
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	repo, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return &pipelineFixture{
		repo:   repo,
		ledger: storage.NewLedger(repo, quietLogger()),
		ranker: newFakeRanker(nil),
		mailer: &fakeMailer{failFor: map[string]bool{}},
		ingest: &countingStage{report: domain.StageReport{Processed: 4, Total: 5}},
		now:    time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC),
	}
}

func (f *pipelineFixture) deps() PipelineDeps {
	return PipelineDeps{
		Store:    f.repo,
		Runs:     f.repo,
		Markers:  f.repo,
		Digests:  f.repo,
		Users:    f.repo,
		Ledger:   f.ledger,
		Ranker:   f.ranker,
		Mailer:   f.mailer,
		Ingest:   f.ingest,
		Settings: PipelineSettings{Lookback: 24 * time.Hour, IngestCooldown: time.Hour, SendLimit: 10, UserDelay: 10 * time.Second},
		Logger:   quietLogger(),
		Now:      func() time.Time { return f.now },
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}
}

func (f *pipelineFixture) pipeline() *Pipeline {
	return NewPipeline(f.deps())
}

func (f *pipelineFixture) seedDigests(t *testing.T, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		d := domain.Digest{
			SourceType: "rss",
			SourceID:   string(rune('0' + i)),
			Title:      "Story",
			Summary:    "Summary",
			URL:        "https://example.org/story",
			CreatedAt:  f.now.Add(-time.Duration(i) * time.Hour),
		}
		created, err := f.repo.CreateDigest(context.Background(), d)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, domain.DigestID(d.SourceType, d.SourceID))
	}
	return ids
}

func (f *pipelineFixture) seedUser(t *testing.T, name string, role domain.Role) domain.User {
	t.Helper()

	u, err := f.repo.SaveUser(context.Background(), domain.User{
		Email:          strings.ToLower(name) + "@example.org",
		Name:           name,
		Title:          "Engineer",
		ExpertiseLevel: "intermediate",
		Interests:      []string{"llm"},
		Active:         true,
		Role:           role,
	})
	require.NoError(t, err)
	return u
}

func TestPipelineDeliversOnlyNewRecommendations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 5)
	ada := f.seedUser(t, "Ada", domain.RoleUser)
	f.seedUser(t, "Bob", domain.RoleUser)
	f.seedUser(t, "Cy", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[0], ids[1]}}

	run, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.UsersProcessed)
	require.NotNil(t, run.Result)
	assert.Equal(t, 2, run.Result.Recommendations)
	assert.Equal(t, 1, run.Result.Deliveries)
	require.Len(t, run.Result.Users, 3)
	assert.Equal(t, "nothing relevant", run.Result.Users[1].Skipped)

	recs, err := f.ledger.ForUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, sentDigest{email: "ada@example.org", ids: []string{ids[0], ids[1]}}, f.mailer.sent[0])
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, f.sleeps, "no delay after the last user")

	sent, err := f.repo.GetDigest(ctx, ids[0])
	require.NoError(t, err)
	assert.NotNil(t, sent.SentAt)

	stored, ok, err := f.repo.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run.ID, stored.ID)
	assert.Equal(t, domain.RunStatusSuccess, stored.Status)
	assert.Equal(t, 3, stored.UsersProcessed)
	assert.Equal(t, run.LogSummary, stored.LogSummary)
	assert.True(t, strings.HasPrefix(stored.LogSummary, "Pipeline started...\n[07:00:00] "))
	assert.Contains(t, stored.LogSummary, "User ada@example.org: sent 2 new items")
}

func TestPipelineSecondRunSendsNothingTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 5)
	ada := f.seedUser(t, "Ada", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[0], ids[1]}}

	_, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	second, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Len(t, f.mailer.sent, 1)
	assert.Zero(t, second.Result.Recommendations)
	require.Len(t, f.ranker.seen["Ada"], 2)
	assert.Equal(t, []string{ids[2], ids[3], ids[4]}, f.ranker.seen["Ada"][1], "already recommended digests are not offered again")

	recs, err := f.ledger.ForUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPipelineDoesNotResendAfterFailedDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 2)
	ada := f.seedUser(t, "Ada", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[0], ids[1]}}
	f.mailer.failFor["ada@example.org"] = true

	first, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, first.Result.Users, 1)
	assert.Contains(t, first.Result.Users[0].Error, "550 mailbox unavailable")
	assert.Equal(t, 2, first.Result.Recommendations)

	delete(f.mailer.failFor, "ada@example.org")
	second, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, f.mailer.sent)
	require.Len(t, second.Result.Users, 1)
	assert.Equal(t, "no unseen digests", second.Result.Users[0].Skipped)

	recs, err := f.ledger.ForUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPipelineForwardsOnlyLedgerInsertions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 2)
	ada := f.seedUser(t, "Ada", domain.RoleUser)

	_, _, err := f.ledger.Record(ctx, ada.ID, ids[0], 0.5, 1, "earlier")
	require.NoError(t, err)

	f.ranker.strict = false
	f.ranker.picks = map[string][]string{"Ada": {ids[0], "rss:ghost", ids[1]}}

	run, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.Recommendations)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{ids[1]}, f.mailer.sent[0].ids)
	assert.Equal(t, 1, run.Result.Users[0].Forwarded)
}

func TestPipelineHonorsSendLimit(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 4)
	f.seedUser(t, "Ada", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[3], ids[2], ids[1]}}

	deps := f.deps()
	deps.Settings.SendLimit = 2
	run, err := NewPipeline(deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, run.Result.Recommendations)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{ids[3], ids[2]}, f.mailer.sent[0].ids)
}

func TestPipelineIsolatesUserFailures(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 3)
	f.seedUser(t, "Ada", domain.RoleUser)
	f.seedUser(t, "Bob", domain.RoleUser)
	f.seedUser(t, "Cy", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[0]}, "Bob": {ids[1]}, "Cy": {ids[2]}}
	f.ranker.panicFor = "Bob"
	f.mailer.failFor["ada@example.org"] = true

	run, err := f.pipeline().Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.UsersProcessed)
	assert.Equal(t, 1, run.Result.Deliveries)

	users := run.Result.Users
	require.Len(t, users, 3)
	assert.Contains(t, users[0].Error, "550 mailbox unavailable")
	assert.Contains(t, users[1].Error, "panic: ranker exploded")
	assert.True(t, users[2].Delivered)
	assert.Equal(t, "cy@example.org", f.mailer.sent[0].email)
}

func TestPipelineIngestCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	require.NoError(t, f.repo.SetMarker(ctx, LastIngestMarker, f.now.Add(-10*time.Minute)))

	run, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, f.ingest.calls)
	assert.True(t, run.Result.Ingest.Skipped)
	assert.Contains(t, run.LogSummary, "Ingest skipped")

	run, err = f.pipeline().Run(ctx, RunOptions{ForceIngest: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ingest.calls)
	assert.Equal(t, 4, run.Result.Ingest.Processed)

	marker, ok, err := f.repo.Marker(ctx, LastIngestMarker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, marker.Equal(f.now))
}

func TestPipelineStageFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.ingest.err = errors.New("all sources failed")
	enrich := &countingStage{report: domain.StageReport{Processed: 1, Failed: 1, Total: 2}}

	deps := f.deps()
	deps.Enrich = enrich
	run, err := NewPipeline(deps).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, enrich.calls)
	assert.Contains(t, run.LogSummary, "Ingest failed: all sources failed")
	assert.True(t, run.Result.Summarize.Skipped)

	_, ok, err := f.repo.Marker(ctx, LastIngestMarker)
	require.NoError(t, err)
	assert.False(t, ok, "marker only moves on success")
}

func TestPipelineRunsTranscriptsDuringEnrich(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	transcripts := &countingStage{report: domain.StageReport{Processed: 3, Unavailable: 1, Total: 3}}

	deps := f.deps()
	deps.Transcripts = transcripts
	run, err := NewPipeline(deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, transcripts.calls)
	assert.Equal(t, transcripts.report, run.Result.Transcripts)
	assert.True(t, run.Result.Enrich.Skipped)
	assert.Contains(t, run.LogSummary, "Transcripts complete: 3 processed (1 unavailable), 0 failed, 3 total")
}

func TestPipelineSendsAdminWelcomeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)
	admin := f.seedUser(t, "Root", domain.RoleAdmin)
	f.mailer.welcomeErr = errors.New("smtp down")

	_, err := f.pipeline().Run(ctx, RunOptions{})
	require.NoError(t, err)
	reloaded, err := f.repo.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.AdminWelcomeSent, "failed welcome is retried next cycle")

	f.mailer.welcomeErr = nil
	for range 2 {
		_, err := f.pipeline().Run(ctx, RunOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"root@example.org"}, f.mailer.welcomes)

	reloaded, err = f.repo.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.AdminWelcomeSent)
}

func TestPipelineFailsWhenDatastoreUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPipelineFixture(t)

	deps := f.deps()
	deps.Store = pingFunc(func(context.Context) error { return errors.New("connection refused") })
	run, err := NewPipeline(deps).Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, domain.StageInit, run.Result.FailedStage)
	assert.Contains(t, run.Result.Error, "connection refused")
	assert.Zero(t, f.ingest.calls)

	stored, ok, err := f.repo.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.EndedAt)
	assert.Contains(t, stored.LogSummary, "Pipeline FAILED during INIT")
}

func TestPipelineRunsWithoutRunTracking(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ids := f.seedDigests(t, 1)
	f.seedUser(t, "Ada", domain.RoleUser)
	f.ranker.picks = map[string][]string{"Ada": {ids[0]}}

	deps := f.deps()
	deps.Runs = nil
	run, err := NewPipeline(deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, run.ID)
	assert.Equal(t, 1, run.Result.Deliveries)
	assert.Empty(t, f.sleeps)
}

func TestFormatRunSummary(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	summary := FormatRunSummary(domain.PipelineRun{
		Status:    domain.RunStatusFailed,
		StartedAt: start,
		EndedAt:   &end,
		Result: &domain.RunResult{
			Ingest:      domain.StageReport{Skipped: true},
			Enrich:      domain.StageReport{Processed: 2, Failed: 1, Total: 3},
			Transcripts: domain.StageReport{Processed: 2, Unavailable: 1, Total: 2},
			FailedStage: domain.StagePersonalize,
			Error:       "load active users: boom",
		},
	})

	assert.Equal(t, "Digest pipeline FAILED\n"+
		"Duration: 1m30s\n"+
		"Ingest: skipped\n"+
		"Enrich: 2/3 ok, 1 failed\n"+
		"Transcripts: 2/2 ok (1 unavailable), 0 failed\n"+
		"Summarize: 0/0 ok, 0 failed\n"+
		"Users: 0, recommendations: 0, deliveries: 0\n"+
		"Error (PERSONALIZE): load active users: boom", summary)
}
