package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"DigestCurator/internal/ports"
)

const (
	defaultBaseURL = "https://www.youtube.com"
	userAgent      = "Mozilla/5.0 (compatible; DigestCurator/1.0)"
	captionsKey    = `"captionTracks":`
	maxPageBytes   = 4 << 20
)

// ErrNoTranscript means the video has no caption track in an accepted language.
var ErrNoTranscript = errors.New("no transcript available")

// Options tunes the transcript client.
type Options struct {
	// BaseURL overrides https://www.youtube.com.
	BaseURL string
	// Languages lists accepted caption languages in preference order. Defaults to English.
	Languages []string
}

// TranscriptClient reads the caption tracks advertised on a video's watch
// page and downloads the preferred one as plain text.
type TranscriptClient struct {
	client    *http.Client
	baseURL   string
	languages []string
}

var _ ports.TranscriptFetcher = (*TranscriptClient)(nil)

func NewTranscriptClient(client *http.Client, opts Options) *TranscriptClient {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"en"}
	}
	return &TranscriptClient{
		client:    client,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		languages: opts.Languages,
	}
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type timedText struct {
	Lines []string `xml:"text"`
}

// Transcript returns the caption text of videoID.
func (c *TranscriptClient) Transcript(ctx context.Context, videoID string) (string, error) {
	page, err := c.get(ctx, c.baseURL+"/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return "", err
	}

	tracks, err := captionTracks(page)
	if err != nil {
		return "", fmt.Errorf("video %s: %w", videoID, err)
	}
	track, ok := pickTrack(tracks, c.languages)
	if !ok {
		return "", fmt.Errorf("video %s: %w", videoID, ErrNoTranscript)
	}

	body, err := c.get(ctx, track.BaseURL)
	if err != nil {
		return "", err
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("decode captions for %s: %w", videoID, err)
	}

	text := joinCaptions(tt.Lines)
	if text == "" {
		return "", fmt.Errorf("video %s: %w", videoID, ErrNoTranscript)
	}
	return text, nil
}

// captionTracks extracts the caption track list embedded in the player response.
func captionTracks(page []byte) ([]captionTrack, error) {
	s := string(page)
	i := strings.Index(s, captionsKey)
	if i < 0 {
		return nil, ErrNoTranscript
	}

	raw, ok := jsonArray(s[i+len(captionsKey):])
	if !ok {
		return nil, errors.New("caption track list is truncated")
	}
	var tracks []captionTrack
	if err := json.Unmarshal([]byte(raw), &tracks); err != nil {
		return nil, fmt.Errorf("decode caption tracks: %w", err)
	}
	return tracks, nil
}

// jsonArray returns the JSON array that s starts with, ignoring brackets in strings.
func jsonArray(s string) (string, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(s, "[") {
		return "", false
	}
	depth, inString, escaped := 0, false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '[' || ch == '{':
			depth++
		case ch == ']' || ch == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// pickTrack prefers the earliest accepted language, and within it a manual
// track over an auto-generated ("asr") one.
func pickTrack(tracks []captionTrack, languages []string) (captionTrack, bool) {
	for _, lang := range languages {
		var auto *captionTrack
		for i := range tracks {
			t := &tracks[i]
			if t.BaseURL == "" || !strings.EqualFold(strings.SplitN(t.LanguageCode, "-", 2)[0], lang) {
				continue
			}
			if t.Kind != "asr" {
				return *t, true
			}
			if auto == nil {
				auto = t
			}
		}
		if auto != nil {
			return *auto, true
		}
	}
	return captionTrack{}, false
}

func joinCaptions(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		// Caption text is escaped twice: once by XML, once more by YouTube.
		l = strings.Join(strings.Fields(html.UnescapeString(l)), " ")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

func (c *TranscriptClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}
