package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riverqueue/river"
)

// Schedule is how often each maintenance job runs.
type Schedule struct {
	SweepEvery     time.Duration
	ReconcileEvery time.Duration
	RetentionDays  int
}

func (s Schedule) withDefaults() Schedule {
	if s.SweepEvery <= 0 {
		s.SweepEvery = 6 * time.Hour
	}
	if s.ReconcileEvery <= 0 {
		s.ReconcileEvery = time.Hour
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = DefaultRetentionDays
	}
	return s
}

// Register adds both workers to a River worker set.
func Register(workers *river.Workers, sweep *SweepWorker, rec *ReconcileWorker) {
	river.AddWorker(workers, sweep)
	river.AddWorker(workers, rec)
}

// PeriodicJobs returns the River periodic jobs for the schedule. Unique
// by kind so several API replicas do not enqueue duplicates.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	s = s.withDefaults()
	unique := &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: time.Minute}}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(s.SweepEvery),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepArgs{RetentionDays: s.RetentionDays}, unique
			},
			nil,
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.ReconcileEvery),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileArgs{}, unique
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// Ticker runs the same workers in-process for stores River cannot queue
// on (memory, SQLite). Start returns immediately; Stop waits for the loops.
type Ticker struct {
	sweep    *SweepWorker
	rec      *ReconcileWorker
	schedule Schedule
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTicker(sweep *SweepWorker, rec *ReconcileWorker, s Schedule, logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{sweep: sweep, rec: rec, schedule: s.withDefaults(), logger: logger}
}

func (t *Ticker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.loop(ctx, t.schedule.SweepEvery, false, func(ctx context.Context) error {
		_, err := t.sweep.Sweep(ctx, t.schedule.RetentionDays)
		return err
	})
	t.loop(ctx, t.schedule.ReconcileEvery, true, func(ctx context.Context) error {
		_, err := t.rec.Reconcile(ctx)
		return err
	})
}

func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Ticker) loop(ctx context.Context, every time.Duration, runOnStart bool, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run := func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				t.logger.Error("background job failed", "error", err)
			}
		}
		if runOnStart {
			run()
		}
		tk := time.NewTicker(every)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				run()
			}
		}
	}()
}
