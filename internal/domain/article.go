package domain

import (
	"fmt"
	"time"
)

// SourceTypeVideo marks articles ingested from YouTube channel feeds. Their
// Content holds the transcript.
const SourceTypeVideo = "youtube"

// TranscriptUnavailable is stored as Content when a video has no transcript,
// so the video is not retried and never summarized.
const TranscriptUnavailable = "__UNAVAILABLE__"

// Article is a raw content unit fetched from an upstream provider.
type Article struct {
	SourceType  string
	SourceID    string
	Title       string
	URL         string
	Description string
	Content     string
	Source      string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// DigestID returns the identifier of the digest derived from this article.
func (a Article) DigestID() string {
	return DigestID(a.SourceType, a.SourceID)
}

// IsVideo reports whether the article is a YouTube video.
func (a Article) IsVideo() bool {
	return a.SourceType == SourceTypeVideo
}

// Digest is an article reduced to a title and summary, ready to recommend.
type Digest struct {
	ID         string
	SourceType string
	SourceID   string
	Title      string
	Summary    string
	URL        string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// DigestID builds the stable identifier "<source type>:<source id>".
func DigestID(sourceType, sourceID string) string {
	return fmt.Sprintf("%s:%s", sourceType, sourceID)
}
