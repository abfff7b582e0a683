package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func item(id string) crawler.QueueItem {
	return crawler.QueueItem{JobID: id, SeedURL: "https://jobs.example.com/" + id}
}

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.TryEnqueue(item(id)))
	}
	require.Equal(t, 3, q.Len())
	require.Equal(t, 3, q.Cap())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got.JobID)
	}
}

func TestQueueBlockingEnqueueWaitsForRoom(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), item("first")))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), item("second")) }()

	select {
	case err := <-done:
		t.Fatalf("enqueue returned before room was made: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", got.JobID)
	require.NoError(t, <-done)
}

func TestQueueContextErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(item("primed")))
	err = q.Enqueue(ctx, item("late"))
	require.ErrorIs(t, err, context.Canceled)

	// A canceled enqueue does not leave its job ID reserved.
	_, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.TryEnqueue(item("late")))
}

func TestQueueRejectsDuplicateJobs(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.NoError(t, q.TryEnqueue(item("a")))
	require.ErrorIs(t, q.TryEnqueue(item("a")), ErrDuplicate)
	require.ErrorIs(t, q.Enqueue(context.Background(), item("a")), ErrDuplicate)
	require.Equal(t, 1, q.Len())

	// Once dequeued the ID may be queued again.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.TryEnqueue(item("a")))
}

func TestQueueFullAndReady(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, NewQueue(0).TryEnqueue(item("x")), ErrFull)
	require.ErrorIs(t, NewQueue(-3).Ready(), ErrFull)

	q := NewQueue(1)
	require.Equal(t, 1, q.Cap())
	require.NoError(t, q.Ready())

	require.NoError(t, q.TryEnqueue(item("a")))
	require.ErrorIs(t, q.Ready(), ErrFull)
	require.ErrorIs(t, q.TryEnqueue(item("b")), ErrFull)

	// A rejected job can be retried once there is room.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.TryEnqueue(item("b")))
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(item("left")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Ready(), ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), item("x")), ErrClosed)
	require.ErrorIs(t, q.TryEnqueue(item("y")), ErrClosed)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left", got.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue(64)
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- q.Enqueue(context.Background(), item(fmt.Sprintf("job-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		seen[got.JobID] = true
	}
	require.Len(t, seen, 64)
}
