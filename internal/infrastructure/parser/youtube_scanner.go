package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/scanner"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v="

// YouTubeScanner lists recent uploads from channel Atom feeds
// (https://www.youtube.com/feeds/videos.xml?channel_id=...). Transcripts are
// fetched later by the transcript stage.
type YouTubeScanner struct {
	client *http.Client
	logger *slog.Logger
}

var _ scanner.Scanner = (*YouTubeScanner)(nil)

func NewYouTubeScanner(client *http.Client, logger *slog.Logger) *YouTubeScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeScanner{client: client, logger: logger}
}

func (y *YouTubeScanner) Name() string { return domain.SourceTypeVideo }

// Scan reads every channel feed and keeps videos published at or after req.Since.
func (y *YouTubeScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Article, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("site %s has no channels", req.Site)
	}

	seen := make(map[string]struct{})
	var videos []domain.Article
	for _, f := range req.Feeds {
		feed, err := fetchFeed(ctx, y.client, f.URL)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", f.Name, err)
		}

		kept := 0
		for _, e := range feed.Entries {
			v, ok := videoFromEntry(e, req.Site)
			if !ok || v.PublishedAt.Before(req.Since) {
				continue
			}
			if _, dup := seen[v.SourceID]; dup {
				continue
			}
			seen[v.SourceID] = struct{}{}
			videos = append(videos, v)
			kept++
		}
		y.logger.Debug("channel scanned", "site", req.Site, "channel", f.Name, "entries", len(feed.Entries), "kept", kept)
	}
	return videos, nil
}

func videoFromEntry(e atomItem, site string) (domain.Article, bool) {
	id := strings.TrimSpace(e.VideoID)
	if id == "" {
		id = strings.TrimPrefix(strings.TrimSpace(e.ID), "yt:video:")
	}
	if id == "" {
		return domain.Article{}, false
	}

	link := e.link()
	if link == "" {
		link = youtubeWatchURL + id
	}
	return domain.Article{
		SourceType:  domain.SourceTypeVideo,
		SourceID:    id,
		Title:       strings.TrimSpace(e.Title),
		URL:         link,
		Description: strings.TrimSpace(e.MediaDescription),
		Source:      site,
		PublishedAt: e.publishedAt(),
	}, true
}
