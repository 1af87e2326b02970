package services

import (
	"context"
	"fmt"

	"credits/internal/metrics"
	"credits/internal/models"
)

// Reconcile compares every stored balance with the sum of its ledger deltas
// and returns the buckets that disagree. It only reports; nothing is fixed.
func (s *CreditService) Reconcile(ctx context.Context) ([]models.ReconcileRow, error) {
	rows, err := s.ledger.Reconcile(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reconcile ledger: %w", err)
	}
	metrics.ReconcileMismatches.Set(float64(len(rows)))
	if len(rows) == 0 {
		metrics.ReconcileRuns.WithLabelValues("clean").Inc()
		return []models.ReconcileRow{}, nil
	}
	metrics.ReconcileRuns.WithLabelValues("mismatch").Inc()
	for _, row := range rows {
		s.logger.Warn("ledger mismatch",
			"user_id", row.UserID,
			"project_key", row.ProjectKey,
			"bucket", row.Bucket,
			"stored", row.Stored,
			"ledger", row.Ledger,
			"difference", row.Difference,
		)
	}
	return rows, nil
}
