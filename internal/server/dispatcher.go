package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"workflowci/internal/core"
	"workflowci/internal/logger"
)

var ErrQueueFull = errors.New("run queue is full")

// JobRunner executes one job instance.
type JobRunner interface {
	RunJob(ctx context.Context, req core.RunRequest) *core.RunResult
}

// Dispatcher runs queued job instances on a bounded pool of workers. Each
// instance runs its steps sequentially; separate instances may overlap.
type Dispatcher struct {
	runner  JobRunner
	runs    *RunStore
	queue   chan core.RunRequest
	workers int
}

func NewDispatcher(runner JobRunner, runs *RunStore, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}
	return &Dispatcher{
		runner:  runner,
		runs:    runs,
		queue:   make(chan core.RunRequest, queueSize),
		workers: workers,
	}
}

// Submit queues req and records it as pending.
func (d *Dispatcher) Submit(req core.RunRequest) error {
	d.runs.Update(&core.RunResult{
		ID:        req.ID,
		Workflow:  req.Workflow.Name,
		JobID:     req.JobID,
		Event:     req.Event,
		Status:    core.JobPending,
		StartedAt: time.Now().UTC(),
	})
	select {
	case d.queue <- req:
		return nil
	default:
		d.runs.Delete(req.ID)
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done and every worker has
// returned. Queued requests not yet started are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case req := <-d.queue:
					logger.LogDebug("worker picked up run", map[string]interface{}{"worker": worker, "run": req.ID, "job": req.JobID})
					d.runner.RunJob(ctx, req)
				}
			}
		})
	}
	return g.Wait()
}
