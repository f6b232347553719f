package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"DigestCurator/internal/domain"
)

// ErrUnknownScanner is returned by Resolve for a name nobody registered.
var ErrUnknownScanner = errors.New("scanner is not registered")

// Feed is one listing endpoint of a site: an arxiv category page or an RSS/Atom URL.
type Feed struct {
	Name string
	URL  string
}

// Request asks a scanner for everything a site published since Since.
type Request struct {
	Site    string
	Since   time.Time
	Feeds   []Feed
	Options map[string]string
}

// Scanner turns one kind of news source into raw articles.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Article, error)
}

// Registry maps the scanner name used in site config to its implementation.
type Registry struct {
	byName map[string]Scanner
}

// NewRegistry registers the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{byName: make(map[string]Scanner, len(scanners))}
	for _, s := range scanners {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any scanner with the same name.
func (r *Registry) Register(s Scanner) {
	if r.byName == nil {
		r.byName = map[string]Scanner{}
	}
	r.byName[s.Name()] = s
}

// Resolve looks a scanner up by name.
func (r *Registry) Resolve(name string) (Scanner, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScanner, name)
	}
	return s, nil
}

// Names lists registered scanners alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
