// Package dispatcher runs queued jobs on a fixed pool of goroutines.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// JobRunner executes one job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher fans queued jobs out to concurrent runners. Each job gets its
// own runner invocation and therefore its own browser sessions.
type Dispatcher struct {
	queue       crawler.Queue
	runner      JobRunner
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, runner JobRunner, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       queue,
		runner:      runner,
		concurrency: concurrency,
		logger:      logger.Named("dispatcher"),
	}
}

// Run starts the pool and blocks until the context finishes or the queue is
// closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, d.logger.With(zap.Int("slot", slot)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, logger *zap.Logger) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				logger.Info("queue closed; stopping")
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		if err := d.runner.Run(ctx, item.JobID); err != nil {
			logger.Error("job run failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
