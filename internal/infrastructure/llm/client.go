package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"DigestCurator/internal/metrics"
	"DigestCurator/internal/ports"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 4 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	redactKeep         = 8
)

// Provider performs a single completion request with an explicit credential.
type Provider interface {
	Complete(ctx context.Context, apiKey string, req ports.CompletionRequest) (string, error)
}

// Options tunes retry behaviour. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *slog.Logger
}

// Client rotates credentials on rate limits and backs off on transient failures.
type Client struct {
	provider    Provider
	keys        []string
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	mu      sync.Mutex
	current int
}

var _ ports.Completer = (*Client)(nil)

// NewClient builds a client over an ordered credential list.
func NewClient(provider Provider, keys []string, opts Options) (*Client, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoCredentials
	}

	c := &Client{
		provider:    provider,
		keys:        cleaned,
		maxAttempts: opts.MaxAttempts,
		minBackoff:  opts.MinBackoff,
		maxBackoff:  opts.MaxBackoff,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.minBackoff <= 0 {
		c.minBackoff = defaultMinBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = defaultMaxBackoff
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = c.minBackoff
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

// Complete issues the request, retrying per the rotation and backoff policy.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	schedule := c.newSchedule()

	var (
		lastErr error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		out, err := c.completeRotating(ctx, req)
		if err == nil {
			metrics.LLMRequests.WithLabelValues("success").Inc()
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempt >= c.maxAttempts {
			break
		}

		wait := schedule.NextBackOff()
		c.logger.Warn("completion attempt failed, backing off",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait,
			"error", err)
		metrics.LLMRetries.Inc()

		if sErr := c.sleep(ctx, wait); sErr != nil {
			lastErr = sErr
			break
		}
	}

	metrics.LLMRequests.WithLabelValues("failure").Inc()
	return "", &ServiceError{Attempts: attempt, RateLimited: IsRateLimit(lastErr), Err: lastErr}
}

// completeRotating makes one call and, on a rate limit, exactly one more with the next credential.
func (c *Client) completeRotating(ctx context.Context, req ports.CompletionRequest) (string, error) {
	idx, key := c.currentKey()

	out, err := c.provider.Complete(ctx, key, req)
	if err == nil || !IsRateLimit(err) {
		return out, err
	}
	if len(c.keys) < 2 {
		c.logger.Warn("rate limited with no alternate credential", "credential", Redact(key))
		return "", err
	}

	next := c.rotateFrom(idx)
	c.logger.Warn("rate limited, rotating credential",
		"from", Redact(key),
		"to", Redact(next))
	metrics.LLMRotations.Inc()

	return c.provider.Complete(ctx, next, req)
}

func (c *Client) currentKey() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.keys[c.current]
}

// rotateFrom advances past idx unless another caller already did.
func (c *Client) rotateFrom(idx int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == idx {
		c.current = (idx + 1) % len(c.keys)
	}
	return c.keys[c.current]
}

func (c *Client) newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Redact keeps a short prefix of a credential for diagnostics.
func Redact(key string) string {
	if len(key) <= redactKeep {
		return strings.Repeat("*", len(key))
	}
	return key[:redactKeep] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
