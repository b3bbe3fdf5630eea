// Package jobs runs the periodic background sweeps on River, a Postgres-backed job
// queue. River keeps its own tables (river_job, river_leader, ...) in the same
// database; Migrate creates them.
//
// Each sweep is a periodic job. River's leader election means only one server
// process enqueues periodic jobs, and the unique-per-interval insert option stops a
// sweep from being queued twice in the same window.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/config"
	"github.com/trentd187/puckdrop/internal/metrics"
)

// Sweeper is the work behind the jobs; services.Sweeps implements it.
type Sweeper interface {
	PromoteWaitlists(ctx context.Context) (int, error)
	SendReminders(ctx context.Context, lead time.Duration) (int, error)
	PublishRosters(ctx context.Context, lead time.Duration) (int, error)
	CleanupNotifications(ctx context.Context, retention time.Duration) (int64, error)
}

const cleanupInterval = time.Hour

// Runner owns the River client.
type Runner struct {
	client *river.Client[pgx.Tx]
	log    *zap.Logger
}

// Migrate brings River's schema up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{}); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}

// New registers the sweep workers and their schedules. Nothing runs until Start.
func New(pool *pgxpool.Pool, sweeps Sweeper, cfg config.SweepConfig, log *zap.Logger, m *metrics.Metrics) (*Runner, error) {
	log = log.With(zap.String("component", "jobs"))
	b := &base{sweeps: sweeps, cfg: cfg, log: log, metrics: m}

	workers := river.NewWorkers()
	river.AddWorker(workers, &WaitlistSweepWorker{base: b})
	river.AddWorker(workers, &ReminderSweepWorker{base: b})
	river.AddWorker(workers, &RosterSweepWorker{base: b})
	river.AddWorker(workers, &NotificationCleanupWorker{base: b})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Runner{client: client, log: log}, nil
}

// periodicJobs is the sweep schedule. Every sweep also runs once at startup so a
// restart never delays a reminder by a whole interval.
func periodicJobs(cfg config.SweepConfig) []*river.PeriodicJob {
	every := func(interval time.Duration, args river.JobArgs) *river.PeriodicJob {
		return river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &river.InsertOpts{
					MaxAttempts: 1,
					UniqueOpts:  river.UniqueOpts{ByPeriod: interval},
				}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		)
	}
	return []*river.PeriodicJob{
		every(cfg.Interval, WaitlistSweepArgs{}),
		every(cfg.Interval, ReminderSweepArgs{}),
		every(cfg.Interval, RosterSweepArgs{}),
		every(cleanupInterval, NotificationCleanupArgs{}),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("start river: %w", err)
	}
	r.log.Info("background jobs started")
	return nil
}

// Stop waits for running jobs to finish, or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	if err := r.client.Stop(ctx); err != nil {
		return fmt.Errorf("stop river: %w", err)
	}
	r.log.Info("background jobs stopped")
	return nil
}
