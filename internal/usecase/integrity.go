package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/ports"
)

// IntegrityReport lists ledger rows that reference missing digests.
type IntegrityReport struct {
	Orphans []domain.Recommendation
	Purged  int
}

// IntegrityChecker audits the recommendation ledger for orphans.
type IntegrityChecker struct {
	ledger ports.LedgerMaintenance
	logger *slog.Logger
}

// NewIntegrityChecker builds the ledger auditor.
func NewIntegrityChecker(ledger ports.LedgerMaintenance, logger *slog.Logger) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{ledger: ledger, logger: logger}
}

// Check finds orphaned recommendations and, when fix is set, deletes them.
func (c *IntegrityChecker) Check(ctx context.Context, fix bool) (IntegrityReport, error) {
	orphans, err := c.ledger.Orphans(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("list orphans: %w", err)
	}
	report := IntegrityReport{Orphans: orphans}
	if len(orphans) == 0 {
		c.logger.Info("ledger integrity ok")
		return report, nil
	}

	c.logger.Warn("orphaned recommendations found", "count", len(orphans))
	if !fix {
		return report, nil
	}

	ids := make([]string, len(orphans))
	for i, o := range orphans {
		ids[i] = o.ID
	}
	purged, err := c.ledger.Purge(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("purge orphans: %w", err)
	}
	report.Purged = purged
	c.logger.Info("orphaned recommendations purged", "count", purged)
	return report, nil
}
