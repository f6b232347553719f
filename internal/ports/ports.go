package ports

import (
	"context"
	"time"

	"DigestCurator/internal/domain"
)

// ArticleSource pulls fresh articles from upstream providers.
type ArticleSource interface {
	FetchRecent(ctx context.Context, since time.Time) ([]domain.Article, error)
}

// ArticleRepository persists raw articles between ingest, enrich and summarize.
type ArticleRepository interface {
	SaveArticles(ctx context.Context, articles []domain.Article) (int, error)
	ArticlesWithoutContent(ctx context.Context, limit int) ([]domain.Article, error)
	VideosWithoutTranscript(ctx context.Context, limit int) ([]domain.Article, error)
	UpdateArticleContent(ctx context.Context, sourceType, sourceID, content string) error
	ArticlesWithoutDigest(ctx context.Context, limit int) ([]domain.Article, error)
}

// DigestRepository stores summarized items.
type DigestRepository interface {
	CreateDigest(ctx context.Context, digest domain.Digest) (bool, error)
	RecentDigests(ctx context.Context, since time.Time, excludeSent bool) ([]domain.Digest, error)
	MarkDigestsSent(ctx context.Context, ids []string, at time.Time) (int, error)
}

// UserRepository exposes the subscriber set.
type UserRepository interface {
	ActiveUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	MarkAdminWelcomeSent(ctx context.Context, id string) error
}

// Ledger owns every write to the recommendation table.
type Ledger interface {
	Record(ctx context.Context, userID, digestID string, score float64, rank int, reasoning string) (domain.Recommendation, bool, error)
	ExistingFor(ctx context.Context, userID string) (map[string]struct{}, error)
}

// RunRepository tracks PipelineRun progress.
type RunRepository interface {
	CreateRun(ctx context.Context, startedAt time.Time) (domain.PipelineRun, error)
	AppendRunLog(ctx context.Context, runID, entry string, at time.Time) error
	SetUsersProcessed(ctx context.Context, runID string, count int) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, result domain.RunResult, at time.Time) error
	LatestRun(ctx context.Context) (domain.PipelineRun, bool, error)
}

// MarkerStore persists named timestamps such as the last ingest time.
type MarkerStore interface {
	Marker(ctx context.Context, key string) (time.Time, bool, error)
	SetMarker(ctx context.Context, key string, at time.Time) error
}

// HealthChecker verifies the datastore is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Message is a single chat turn sent to a completion provider.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Completer returns the text of a chat completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Ranker orders candidate digests for a single user profile.
type Ranker interface {
	Rank(ctx context.Context, candidates []domain.Digest, profile domain.Profile) ([]domain.RankedItem, error)
}

// Stage is a cycle step that reports item counts.
type Stage interface {
	Process(ctx context.Context) (domain.StageReport, error)
}

// ContentFetcher retrieves readable text for a URL.
type ContentFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// TranscriptFetcher retrieves the caption text of a video.
type TranscriptFetcher interface {
	Transcript(ctx context.Context, videoID string) (string, error)
}

// Mailer delivers digests and account notices to users.
type Mailer interface {
	SendDigest(ctx context.Context, user domain.User, profile domain.Profile, items []domain.RankedItem) domain.DeliveryResult
	SendAdminWelcome(ctx context.Context, user domain.User) error
}

// Notifier publishes operator-facing run summaries.
type Notifier interface {
	PublishRunSummary(ctx context.Context, summary string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// LedgerMaintenance finds and removes recommendations whose digest is gone.
type LedgerMaintenance interface {
	Orphans(ctx context.Context) ([]domain.Recommendation, error)
	Purge(ctx context.Context, ids []string) (int, error)
}
