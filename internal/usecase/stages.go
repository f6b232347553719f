package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/metrics"
	"DigestCurator/internal/ports"
)

const (
	summaryContentLimit = 8000

	summarySystemPrompt = `You write digests of AI news: articles, research papers and video transcripts.

For each item produce:
- a title of 5 to 10 words that captures the substance
- a summary of 2 or 3 sentences covering the main points and why they matter

Keep the language clear and technically accurate. Skip marketing language.
Respond with a JSON object: {"title":"...","summary":"..."}`
)

// IngestStage pulls recent articles from every configured source.
type IngestStage struct {
	source   ports.ArticleSource
	articles ports.ArticleRepository
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewIngestStage builds the INGEST collaborator.
func NewIngestStage(source ports.ArticleSource, articles ports.ArticleRepository, lookback time.Duration, logger *slog.Logger) *IngestStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestStage{source: source, articles: articles, lookback: lookback, now: time.Now, logger: logger}
}

// Process fetches and stores new articles. Processed counts newly stored rows.
func (s *IngestStage) Process(ctx context.Context) (domain.StageReport, error) {
	since := s.now().Add(-s.lookback)
	found, err := s.source.FetchRecent(ctx, since)
	if err != nil {
		return domain.StageReport{}, fmt.Errorf("fetch articles: %w", err)
	}

	inserted, err := s.articles.SaveArticles(ctx, found)
	if err != nil {
		return domain.StageReport{Total: len(found), Failed: len(found)}, fmt.Errorf("save articles: %w", err)
	}

	metrics.StageItems.WithLabelValues("ingest", "new").Add(float64(inserted))
	metrics.StageItems.WithLabelValues("ingest", "duplicate").Add(float64(len(found) - inserted))
	s.logger.Info("ingest finished", "fetched", len(found), "new", inserted)
	return domain.StageReport{Processed: inserted, Total: len(found)}, nil
}

// EnrichStage fills in page text for articles that only carry a link.
type EnrichStage struct {
	articles ports.ArticleRepository
	fetcher  ports.ContentFetcher
	batch    int
	logger   *slog.Logger
}

// NewEnrichStage builds the ENRICH collaborator.
func NewEnrichStage(articles ports.ArticleRepository, fetcher ports.ContentFetcher, batch int, logger *slog.Logger) *EnrichStage {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	return &EnrichStage{articles: articles, fetcher: fetcher, batch: batch, logger: logger}
}

// Process enriches up to one batch; per-item failures are counted, not returned.
func (s *EnrichStage) Process(ctx context.Context) (domain.StageReport, error) {
	pending, err := s.articles.ArticlesWithoutContent(ctx, s.batch)
	if err != nil {
		return domain.StageReport{}, fmt.Errorf("list articles without content: %w", err)
	}

	report := domain.StageReport{Total: len(pending)}
	for _, a := range pending {
		text, err := s.fetcher.FetchText(ctx, a.URL)
		if err == nil {
			err = s.articles.UpdateArticleContent(ctx, a.SourceType, a.SourceID, text)
		}
		if err != nil {
			report.Failed++
			metrics.StageItems.WithLabelValues("enrich", "failed").Inc()
			s.logger.Warn("enrich failed", "article", a.DigestID(), "url", a.URL, "error", err)
			continue
		}
		report.Processed++
		metrics.StageItems.WithLabelValues("enrich", "processed").Inc()
	}
	return report, nil
}

// TranscriptStage stores caption text for ingested videos. A video without a
// usable transcript is marked unavailable so it is neither retried nor summarized.
type TranscriptStage struct {
	articles ports.ArticleRepository
	fetcher  ports.TranscriptFetcher
	batch    int
	logger   *slog.Logger
}

// NewTranscriptStage builds the video half of ENRICH.
func NewTranscriptStage(articles ports.ArticleRepository, fetcher ports.TranscriptFetcher, batch int, logger *slog.Logger) *TranscriptStage {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	return &TranscriptStage{articles: articles, fetcher: fetcher, batch: batch, logger: logger}
}

// Process handles one batch. Processed counts stored results, unavailable
// markers included; Failed counts videos whose result could not be saved.
func (s *TranscriptStage) Process(ctx context.Context) (domain.StageReport, error) {
	pending, err := s.articles.VideosWithoutTranscript(ctx, s.batch)
	if err != nil {
		return domain.StageReport{}, fmt.Errorf("list videos without transcript: %w", err)
	}

	report := domain.StageReport{Total: len(pending)}
	for _, v := range pending {
		text, err := s.fetcher.Transcript(ctx, v.SourceID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil || strings.TrimSpace(text) == "" {
			s.logger.Debug("transcript unavailable", "video", v.SourceID, "error", err)
			text = domain.TranscriptUnavailable
		}

		if err := s.articles.UpdateArticleContent(ctx, v.SourceType, v.SourceID, text); err != nil {
			report.Failed++
			metrics.StageItems.WithLabelValues("transcripts", "failed").Inc()
			s.logger.Warn("save transcript failed", "video", v.SourceID, "error", err)
			continue
		}
		report.Processed++
		if text == domain.TranscriptUnavailable {
			report.Unavailable++
			metrics.StageItems.WithLabelValues("transcripts", "unavailable").Inc()
			continue
		}
		metrics.StageItems.WithLabelValues("transcripts", "processed").Inc()
	}
	return report, nil
}

// SummarizeStage turns articles into digests through the completion client.
type SummarizeStage struct {
	articles    ports.ArticleRepository
	digests     ports.DigestRepository
	completer   ports.Completer
	batch       int
	temperature float64
	logger      *slog.Logger
}

// NewSummarizeStage builds the SUMMARIZE collaborator.
func NewSummarizeStage(articles ports.ArticleRepository, digests ports.DigestRepository, completer ports.Completer, batch int, logger *slog.Logger) *SummarizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	return &SummarizeStage{
		articles:    articles,
		digests:     digests,
		completer:   completer,
		batch:       batch,
		temperature: 0.7,
		logger:      logger,
	}
}

type summaryOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Process summarizes up to one batch of undigested articles.
func (s *SummarizeStage) Process(ctx context.Context) (domain.StageReport, error) {
	pending, err := s.articles.ArticlesWithoutDigest(ctx, s.batch)
	if err != nil {
		return domain.StageReport{}, fmt.Errorf("list articles without digest: %w", err)
	}

	report := domain.StageReport{Total: len(pending)}
	for _, a := range pending {
		if err := s.summarize(ctx, a); err != nil {
			report.Failed++
			metrics.StageItems.WithLabelValues("summarize", "failed").Inc()
			s.logger.Warn("summarize failed", "article", a.DigestID(), "error", err)
			continue
		}
		report.Processed++
		metrics.StageItems.WithLabelValues("summarize", "processed").Inc()
	}
	return report, nil
}

func (s *SummarizeStage) summarize(ctx context.Context, a domain.Article) error {
	body := a.Content
	if strings.TrimSpace(body) == "" {
		body = a.Description
	}
	if strings.TrimSpace(body) == "" {
		body = a.Title
	}
	if r := []rune(body); len(r) > summaryContentLimit {
		body = string(r[:summaryContentLimit])
	}

	raw, err := s.completer.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Create a digest for this %s:\nTitle: %s\nContent: %s", a.SourceType, a.Title, body)},
		},
		Temperature: s.temperature,
		JSON:        true,
	})
	if err != nil {
		return err
	}

	var out summaryOutput
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Title == "" || out.Summary == "" {
		return fmt.Errorf("summary output missing title or summary")
	}

	_, err = s.digests.CreateDigest(ctx, domain.Digest{
		ID:         a.DigestID(),
		SourceType: a.SourceType,
		SourceID:   a.SourceID,
		Title:      out.Title,
		Summary:    out.Summary,
		URL:        a.URL,
	})
	return err
}
