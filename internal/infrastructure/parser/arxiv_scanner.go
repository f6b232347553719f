package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/scanner"
)

const (
	arxivHost       = "https://arxiv.org"
	arxivSourceType = "arxiv"
	userAgent       = "DigestCurator/1.0"

	defaultArxivPageSize = 200
)

var listingDate = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

var errNoIdentifier = errors.New("listing entry has no arxiv identifier")

// ArxivScanner reads arxiv "/list/<category>" pages, newest first, and stops
// paging once entries fall before the requested day.
type ArxivScanner struct {
	client   *http.Client
	pageSize int
	logger   *slog.Logger
}

var _ scanner.Scanner = (*ArxivScanner)(nil)

func NewArxivScanner(client *http.Client, logger *slog.Logger) *ArxivScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArxivScanner{client: client, pageSize: defaultArxivPageSize, logger: logger}
}

func (a *ArxivScanner) Name() string { return arxivSourceType }

// Scan collects papers from every listing feed, de-duplicated by arxiv id
// since cross-listed papers appear under several categories.
func (a *ArxivScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Article, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("site %s has no arxiv listings", req.Site)
	}

	cutoff := req.Since.UTC().Truncate(24 * time.Hour)
	seen := make(map[string]struct{})
	var papers []domain.Article

	for _, feed := range req.Feeds {
		found, err := a.scanListing(ctx, feed, req.Site, cutoff)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", feed.Name, err)
		}
		for _, p := range found {
			if _, dup := seen[p.SourceID]; dup {
				continue
			}
			seen[p.SourceID] = struct{}{}
			papers = append(papers, p)
		}
	}
	return papers, nil
}

func (a *ArxivScanner) scanListing(ctx context.Context, feed scanner.Feed, site string, cutoff time.Time) ([]domain.Article, error) {
	source := site
	if feed.Name != "" {
		source = site + "/" + feed.Name
	}

	var papers []domain.Article
	for offset := 0; ; offset += a.pageSize {
		pageURL, err := listingPageURL(feed.URL, offset, a.pageSize)
		if err != nil {
			return nil, err
		}
		doc, err := a.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		fresh, entries, reachedCutoff := readListing(doc, source, cutoff)
		papers = append(papers, fresh...)
		a.logger.Debug("arxiv page read", "listing", feed.Name, "offset", offset, "entries", entries, "fresh", len(fresh))

		if reachedCutoff || entries < a.pageSize {
			return papers, nil
		}
	}
}

// readListing parses one listing page. It reports how many entries the page
// held and whether an entry older than cutoff was seen.
func readListing(doc *goquery.Document, source string, cutoff time.Time) (fresh []domain.Article, entries int, reachedCutoff bool) {
	doc.Find("dl > dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		entries++
		paper, err := paperFromEntry(dt, dt.Next(), source)
		if err != nil {
			return true
		}
		if paper.PublishedAt.UTC().Truncate(24 * time.Hour).Before(cutoff) {
			reachedCutoff = true
			return false
		}
		fresh = append(fresh, paper)
		return true
	})
	return fresh, entries, reachedCutoff
}

// paperFromEntry maps a <dt>/<dd> listing pair to an article.
func paperFromEntry(dt, dd *goquery.Selection, source string) (domain.Article, error) {
	abs := dt.Find(`a[href*="/abs/"]`).First()
	href, _ := abs.Attr("href")

	id := strings.TrimPrefix(strings.TrimSpace(abs.Text()), "arXiv:")
	if id == "" {
		id = strings.TrimPrefix(href, "/abs/")
	}
	if id == "" {
		return domain.Article{}, errNoIdentifier
	}
	if !strings.HasPrefix(href, "http") {
		href = arxivHost + href
	}

	abstract := textWithoutLabel(dd.Find("p.mathjax"), "Abstract:")
	return domain.Article{
		SourceType:  arxivSourceType,
		SourceID:    id,
		Title:       textWithoutLabel(dd.Find(".list-title"), "Title:"),
		URL:         href,
		Description: abstract,
		Content:     abstract,
		Source:      source,
		PublishedAt: entryDate(dd),
	}, nil
}

func textWithoutLabel(sel *goquery.Selection, label string) string {
	text := strings.TrimSpace(sel.First().Text())
	return strings.TrimSpace(strings.TrimPrefix(text, label))
}

// entryDate reads "8 Nov 2025" style dates; undated entries count as today.
func entryDate(dd *goquery.Selection) time.Time {
	raw := dd.Find(".list-date").First().Text()
	if strings.TrimSpace(raw) == "" {
		raw = dd.Find(".list-dateline").First().Text()
	}
	if m := listingDate.FindString(raw); m != "" {
		if t, err := time.Parse("2 Jan 2006", m); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func listingPageURL(listing string, offset, size int) (string, error) {
	u, err := url.Parse(listing)
	if err != nil {
		return "", fmt.Errorf("listing url %q: %w", listing, err)
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(offset))
	q.Set("show", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *ArxivScanner) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: %s", pageURL, resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return doc, nil
}
