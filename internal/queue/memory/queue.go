// Package memory provides the in-process queue between job submission and the
// dispatcher.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

var (
	// ErrClosed is returned once the queue has been shut down.
	ErrClosed = crawler.ErrQueueClosed
	// ErrFull is returned by TryEnqueue when no capacity is left.
	ErrFull = errors.New("queue full")
	// ErrDuplicate is returned when the job is already waiting in the queue.
	ErrDuplicate = errors.New("job already queued")
)

// Queue is a bounded FIFO of jobs waiting for a runner. A job ID can be
// queued at most once at a time.
type Queue struct {
	items chan crawler.QueueItem

	// closeMu is held for reading by senders so Close never races a send.
	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	queued map[string]struct{}
}

// NewQueue returns a queue holding up to capacity jobs. With zero capacity a
// submission only succeeds while a dispatcher is already waiting.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		items:  make(chan crawler.QueueItem, capacity),
		queued: make(map[string]struct{}, capacity),
	}
}

// Enqueue waits for room or for ctx to end.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := q.reserve(item.JobID); err != nil {
		return err
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.release(item.JobID)
		return fmt.Errorf("enqueue %s: %w", item.JobID, ctx.Err())
	}
}

// TryEnqueue adds the job only if there is room right now.
func (q *Queue) TryEnqueue(item crawler.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := q.reserve(item.JobID); err != nil {
		return err
	}
	select {
	case q.items <- item:
		return nil
	default:
		q.release(item.JobID)
		return ErrFull
	}
}

// Dequeue blocks for the next job. After Close it keeps returning queued jobs
// and then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			return crawler.QueueItem{}, ErrClosed
		}
		q.release(item.JobID)
		return item, nil
	}
}

// Len reports the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Ready returns nil while the queue has room. A zero-capacity queue is never
// ready.
func (q *Queue) Ready() error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	switch {
	case q.closed:
		return ErrClosed
	case len(q.items) >= cap(q.items):
		return ErrFull
	default:
		return nil
	}
}

// Close stops new submissions. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

func (q *Queue) reserve(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, jobID)
	}
	q.queued[jobID] = struct{}{}
	return nil
}

func (q *Queue) release(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, jobID)
}
