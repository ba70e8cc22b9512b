package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/ports"
)

// Subscriber opens a pull-based job source; every worker fetches from the
// same durable subscription so jobs are split between them.
type Subscriber interface {
	Subscribe(ctx context.Context) (ports.JobSource, error)
}

// Runner drains the analysis queue with a fixed pool of workers. Each job is
// acked on success and nak'ed for redelivery on failure.
type Runner struct {
	subscriber Subscriber
	service    *Service
	workers    int
}

func NewRunner(subscriber Subscriber, service *Service, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{subscriber: subscriber, service: service, workers: workers}
}

// Run blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	source, err := r.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.analysis"))
	logging.Info(logCtx, "worker pool started", slog.Int("workers", r.workers))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.loop(logging.WithAttrs(ctx, slog.Int("worker", worker)), source)
		}(i)
	}
	wg.Wait()

	logging.Info(logCtx, "worker pool stopped")
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, source ports.JobSource) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobs, err := source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn(ctx, "job fetch failed, backing off", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, job := range jobs {
			r.process(ctx, job)
		}
	}
}

func (r *Runner) process(ctx context.Context, job ports.Job) {
	jobCtx := logging.WithAttrs(ctx, slog.String("drift_event_id", job.DriftEventID()))

	if err := r.service.Run(jobCtx, job.DriftEventID()); err != nil {
		logging.Warn(jobCtx, "job failed, scheduling redelivery", slog.Any("error", err))
		if nakErr := job.Retry(jobCtx); nakErr != nil {
			logging.Error(jobCtx, "job nak failed", slog.Any("error", nakErr))
		}
		return
	}

	if err := job.Ack(jobCtx); err != nil {
		logging.Error(jobCtx, "job ack failed", slog.Any("error", err))
	}
}
