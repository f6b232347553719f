package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/scanner"
)

const sourceTypeOption = "sourceType"

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// RSSScanner reads RSS 2.0 and Atom feeds.
type RSSScanner struct {
	client *http.Client
	logger *slog.Logger
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client.
func NewRSSScanner(client *http.Client, logger *slog.Logger) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSScanner{client: client, logger: logger}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

type rssFeed struct {
	Items   []feedItem `xml:"channel>item"`
	Entries []atomItem `xml:"entry"`
}

type feedItem struct {
	GUID        string `xml:"guid"`
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
}

type atomItem struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	// YouTube channel feeds carry the video id and description in extension elements.
	VideoID          string `xml:"videoId"`
	MediaDescription string `xml:"group>description"`
	Links            []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

// Scan fetches every feed and keeps items published at or after req.Since.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Article, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds provided for site %s", req.Site)
	}

	sourceType := req.Options[sourceTypeOption]
	if sourceType == "" {
		sourceType = req.Site
	}

	var results []domain.Article
	seen := map[string]struct{}{}
	for _, f := range req.Feeds {
		feed, err := fetchFeed(ctx, s.client, f.URL)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", f.Name, err)
		}

		for _, article := range feed.articles(sourceType, req.Site) {
			if article.PublishedAt.Before(req.Since) {
				continue
			}
			if _, ok := seen[article.SourceID]; ok {
				continue
			}
			seen[article.SourceID] = struct{}{}
			results = append(results, article)
		}
		s.logger.Debug("feed scanned", "site", req.Site, "feed", f.Name, "total", len(results))
	}

	return results, nil
}

func fetchFeed(ctx context.Context, client *http.Client, feedURL string) (rssFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return rssFeed{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return rssFeed{}, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rssFeed{}, fmt.Errorf("%s returned %s", feedURL, resp.Status)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return rssFeed{}, fmt.Errorf("decode feed: %w", err)
	}
	return feed, nil
}

func (f rssFeed) articles(sourceType, siteName string) []domain.Article {
	out := make([]domain.Article, 0, len(f.Items)+len(f.Entries))
	for _, it := range f.Items {
		id := strings.TrimSpace(it.GUID)
		if id == "" {
			id = strings.TrimSpace(it.Link)
		}
		if id == "" {
			continue
		}
		out = append(out, domain.Article{
			SourceType:  sourceType,
			SourceID:    id,
			Title:       strings.TrimSpace(it.Title),
			URL:         strings.TrimSpace(it.Link),
			Description: htmlToText(it.Description),
			Content:     htmlToText(it.Content),
			Source:      siteName,
			PublishedAt: parseFeedTime(it.PubDate),
		})
	}

	for _, e := range f.Entries {
		link := e.link()
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = link
		}
		if id == "" {
			continue
		}
		out = append(out, domain.Article{
			SourceType:  sourceType,
			SourceID:    id,
			Title:       strings.TrimSpace(e.Title),
			URL:         link,
			Description: htmlToText(e.Summary),
			Source:      siteName,
			PublishedAt: e.publishedAt(),
		})
	}
	return out
}

func (e atomItem) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

func (e atomItem) publishedAt() time.Time {
	if strings.TrimSpace(e.Published) != "" {
		return parseFeedTime(e.Published)
	}
	return parseFeedTime(e.Updated)
}

func parseFeedTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func htmlToText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
