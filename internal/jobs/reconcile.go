package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"credits/internal/models"

	"github.com/robfig/cron/v3"
)

type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.ReconcileRow, error)
}

// ReconcileJob runs ledger reconciliation on a cron schedule. Runs never
// overlap; a run that is still going when the next tick fires is skipped.
type ReconcileJob struct {
	reconciler Reconciler
	timeout    time.Duration
	logger     *slog.Logger
}

func NewReconcileJob(reconciler Reconciler, timeout time.Duration, logger *slog.Logger) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{reconciler: reconciler, timeout: timeout, logger: logger}
}

// Start registers the job on runner. An empty schedule disables it.
func (j *ReconcileJob) Start(runner *cron.Cron, schedule string) (cron.EntryID, error) {
	if schedule == "" {
		j.logger.Info("reconcile job disabled")
		return 0, nil
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(j.Run))
	id, err := runner.AddJob(schedule, job)
	if err != nil {
		return 0, fmt.Errorf("schedule reconcile %q: %w", schedule, err)
	}
	j.logger.Info("reconcile job scheduled", "schedule", schedule)
	return id, nil
}

func (j *ReconcileJob) Run() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	started := time.Now()
	rows, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		j.logger.Error("reconcile failed", "error", err)
		return
	}
	j.logger.Info("reconcile finished", "mismatches", len(rows), "duration", time.Since(started))
}
