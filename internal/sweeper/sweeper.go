// Package sweeper deletes expired idempotency records on a River schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

type SweepArgs struct {
	BatchSize int `json:"batch_size"`
}

func (SweepArgs) Kind() string { return "idempotency_sweep" }

// Sweeper removes expired records in batches and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context, batch int) (int64, error)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper Sweeper
	logger  *slog.Logger
}

func NewSweepWorker(s Sweeper, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{sweeper: s, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	n, err := w.sweeper.Sweep(ctx, job.Args.BatchSize)
	if err != nil {
		return fmt.Errorf("idempotency sweep: %w", err)
	}
	w.logger.InfoContext(ctx, "expired idempotency records swept", "deleted", n)
	return nil
}

func (w *SweepWorker) Timeout(*river.Job[SweepArgs]) time.Duration {
	return 5 * time.Minute
}

// PeriodicJob schedules a sweep every interval, starting at client start.
func PeriodicJob(interval time.Duration, batch int) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{BatchSize: batch}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

type Options struct {
	Interval  time.Duration
	BatchSize int
}

// NewClient builds a River client that only runs the sweep.
func NewClient(pool *pgxpool.Pool, s Sweeper, opts Options, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewSweepWorker(s, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{PeriodicJob(opts.Interval, opts.BatchSize)},
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}

// Migrate applies River's own schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}
