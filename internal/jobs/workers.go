package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/config"
	"github.com/trentd187/puckdrop/internal/metrics"
)

// Job arguments. The sweeps take no parameters; the kind alone says what to do.

type WaitlistSweepArgs struct{}

func (WaitlistSweepArgs) Kind() string { return "waitlist_sweep" }

type ReminderSweepArgs struct{}

func (ReminderSweepArgs) Kind() string { return "reminder_sweep" }

type RosterSweepArgs struct{}

func (RosterSweepArgs) Kind() string { return "roster_sweep" }

type NotificationCleanupArgs struct{}

func (NotificationCleanupArgs) Kind() string { return "notification_cleanup" }

// base is shared by every worker: it runs a sweep, logs it, and counts the outcome.
type base struct {
	sweeps  Sweeper
	cfg     config.SweepConfig
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (b *base) run(ctx context.Context, job string, sweep func(context.Context) (int64, error)) error {
	start := time.Now()
	n, err := sweep(ctx)
	if err != nil {
		b.metrics.SweepRuns.WithLabelValues(job, "error").Inc()
		b.log.Error("sweep failed", zap.String("job", job), zap.Error(err))
		return err
	}
	b.metrics.SweepRuns.WithLabelValues(job, "ok").Inc()
	if n > 0 {
		b.log.Info("sweep done", zap.String("job", job), zap.Int64("affected", n), zap.Duration("took", time.Since(start)))
	}
	return nil
}

type WaitlistSweepWorker struct {
	river.WorkerDefaults[WaitlistSweepArgs]
	*base
}

func (w *WaitlistSweepWorker) Work(ctx context.Context, job *river.Job[WaitlistSweepArgs]) error {
	return w.run(ctx, job.Args.Kind(), func(ctx context.Context) (int64, error) {
		n, err := w.sweeps.PromoteWaitlists(ctx)
		return int64(n), err
	})
}

type ReminderSweepWorker struct {
	river.WorkerDefaults[ReminderSweepArgs]
	*base
}

func (w *ReminderSweepWorker) Work(ctx context.Context, job *river.Job[ReminderSweepArgs]) error {
	return w.run(ctx, job.Args.Kind(), func(ctx context.Context) (int64, error) {
		n, err := w.sweeps.SendReminders(ctx, w.cfg.ReminderLead)
		return int64(n), err
	})
}

type RosterSweepWorker struct {
	river.WorkerDefaults[RosterSweepArgs]
	*base
}

func (w *RosterSweepWorker) Work(ctx context.Context, job *river.Job[RosterSweepArgs]) error {
	return w.run(ctx, job.Args.Kind(), func(ctx context.Context) (int64, error) {
		n, err := w.sweeps.PublishRosters(ctx, w.cfg.RosterPublishLead)
		return int64(n), err
	})
}

type NotificationCleanupWorker struct {
	river.WorkerDefaults[NotificationCleanupArgs]
	*base
}

func (w *NotificationCleanupWorker) Work(ctx context.Context, job *river.Job[NotificationCleanupArgs]) error {
	return w.run(ctx, job.Args.Kind(), func(ctx context.Context) (int64, error) {
		return w.sweeps.CleanupNotifications(ctx, w.cfg.NotificationRetention)
	})
}
