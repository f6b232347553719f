package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredentials is returned when the client is built without API keys.
	ErrNoCredentials = errors.New("llm: at least one credential is required")
	// ErrEmptyResponse is returned when the provider answers without choices.
	ErrEmptyResponse = errors.New("llm: empty completion response")
)

// ProviderError is a failed provider call with its HTTP status (0 for transport failures).
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return fmt.Sprintf("provider returned %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ServiceError is the unrecoverable failure surfaced by Client.Complete.
type ServiceError struct {
	Attempts    int
	RateLimited bool
	Err         error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a provider quota signal.
func IsRateLimit(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusTooManyRequests
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}

	switch {
	case pe.StatusCode == 0:
		return true
	case pe.StatusCode == http.StatusTooManyRequests, pe.StatusCode == http.StatusRequestTimeout:
		return true
	case pe.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
