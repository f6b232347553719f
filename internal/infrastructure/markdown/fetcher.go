package markdown

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"DigestCurator/internal/ports"
)

const (
	defaultMaxChars = 20000
	userAgent       = "DigestCurator/1.0"
)

// Fetcher downloads a page and reduces its main content to markdown-flavoured text.
type Fetcher struct {
	client   *http.Client
	maxChars int
}

var _ ports.ContentFetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher; a nil client gets a 20s timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client, maxChars: defaultMaxChars}
}

// FetchText returns the page body as markdown-like text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}

	text := Convert(doc)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", url)
	}
	if len(text) > f.maxChars {
		text = truncate(text, f.maxChars)
	}
	return text, nil
}

// Convert renders headings, paragraphs, list items, quotes and code blocks of the main content.
func Convert(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer, header, aside, form").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var blocks []string
	root.Find("h1, h2, h3, h4, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "li" && s.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}

		text := collapse(s.Text())
		if goquery.NodeName(s) == "pre" {
			text = strings.TrimSpace(s.Text())
		}
		if text == "" {
			return
		}

		switch goquery.NodeName(s) {
		case "h1":
			blocks = append(blocks, "# "+text)
		case "h2":
			blocks = append(blocks, "## "+text)
		case "h3", "h4":
			blocks = append(blocks, "### "+text)
		case "li":
			blocks = append(blocks, "- "+text)
		case "blockquote":
			blocks = append(blocks, "> "+text)
		case "pre":
			blocks = append(blocks, "```\n"+text+"\n```")
		default:
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(blocks, "\n\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
