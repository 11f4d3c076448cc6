// Package jobs runs the ledger's background maintenance: pruning spent
// extra rights and reconciling projections against the ledger.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/fortunecoin/backend/internal/metrics"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/reconcile"
	"github.com/fortunecoin/backend/internal/rights"
)

// DefaultRetentionDays keeps a month of past extra rights for support lookups.
const DefaultRetentionDays = 30

type SweepArgs struct {
	RetentionDays int `json:"retention_days"`
}

func (SweepArgs) Kind() string { return "prune_extra_rights" }

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	rights rights.Store
	clock  quota.Clock
	logger *slog.Logger
}

func NewSweepWorker(store rights.Store, clock quota.Clock, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{rights: store, clock: clock, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	_, err := w.Sweep(ctx, job.Args.RetentionDays)
	return err
}

// Sweep deletes extra rights older than retentionDays. Rights are only
// redeemable on their own day, so anything in the past is spent or lost.
func (w *SweepWorker) Sweep(ctx context.Context, retentionDays int) (n int64, err error) {
	defer func() { metrics.JobRuns.WithLabelValues(SweepArgs{}.Kind(), result(err)).Inc() }()
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := w.clock.Today().AddDays(-retentionDays)
	n, err = w.rights.PruneExtraRights(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune extra rights before %s: %w", cutoff, err)
	}
	w.logger.Info("extra rights pruned", "cutoff", cutoff, "deleted", n)
	return n, nil
}

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_ledger" }

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	source reconcile.Source
	logger *slog.Logger
}

func NewReconcileWorker(src reconcile.Source, logger *slog.Logger) *ReconcileWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileWorker{source: src, logger: logger}
}

// Timeout bounds one full pass; large ledgers need more than River's default minute.
func (w *ReconcileWorker) Timeout(*river.Job[ReconcileArgs]) time.Duration { return 30 * time.Minute }

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	_, err := w.Reconcile(ctx)
	return err
}

// Reconcile runs one pass. Mismatches are reported, not returned as errors,
// so River does not retry a pass that completed.
func (w *ReconcileWorker) Reconcile(ctx context.Context) (rep reconcile.Report, err error) {
	defer func() { metrics.JobRuns.WithLabelValues(ReconcileArgs{}.Kind(), result(err)).Inc() }()
	rep, err = reconcile.Run(ctx, w.source, w.logger)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}
	return rep, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
