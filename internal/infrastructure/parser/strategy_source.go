package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"DigestCurator/internal/config"
	"DigestCurator/internal/domain"
	"DigestCurator/internal/ports"
	"DigestCurator/internal/scanner"
)

// StrategySource fans FetchRecent out to the scanner configured for each site.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.ArticleSource = (*StrategySource)(nil)

// NewStrategySource binds configured sites to registered scanners.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	if log == nil {
		log = slog.Default()
	}
	return &StrategySource{registry: reg, sites: sites, logger: log}
}

// FetchRecent returns what every site published since the cutoff. A failing
// site is logged and skipped; the call fails only if every site failed.
func (s *StrategySource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Article, error) {
	if s.registry == nil {
		return nil, errors.New("scanner registry is not configured")
	}

	var (
		articles []domain.Article
		errs     []error
	)
	for _, site := range s.sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := s.fetchSite(ctx, site, since)
		if err != nil {
			s.logger.Warn("site scan failed", "site", site.Name, "scanner", site.Scanner, "error", err)
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("site scanned", "site", site.Name, "articles", len(found))
		articles = append(articles, found...)
	}

	if len(s.sites) > 0 && len(errs) == len(s.sites) {
		return nil, errors.Join(errs...)
	}
	return articles, nil
}

func (s *StrategySource) fetchSite(ctx context.Context, site config.SiteConfig, since time.Time) ([]domain.Article, error) {
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	feeds := make([]scanner.Feed, len(site.Feeds))
	for i, f := range site.Feeds {
		feeds[i] = scanner.Feed{Name: f.Name, URL: f.URL}
	}

	found, err := strategy.Scan(ctx, scanner.Request{
		Site:    site.Name,
		Since:   since,
		Feeds:   feeds,
		Options: site.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	for i := range found {
		if found[i].Source == "" {
			found[i].Source = site.Name
		}
	}
	return found, nil
}
