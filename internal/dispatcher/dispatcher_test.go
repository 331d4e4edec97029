package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/queue/memory"
	"github.com/JakeFAU/urlcrawl/internal/worker"
)

func shutdownWithin(t *testing.T, d *Dispatcher, wait time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("dispatcher did not shut down")
	}
}

func TestDispatcherWorkersStopOnCancel(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(0, queue, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())
	pool := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}
	cancel()
	shutdownWithin(t, pool, time.Second)
}

func TestDispatcherShutdownDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	pool := New(q, []*worker.Worker{
		worker.New(0, q, nil, nil, nil, nil, nil, nil, nil, nil, nil),
		worker.New(1, q, nil, nil, nil, nil, nil, nil, nil, nil, nil),
	})
	pool.Start(context.Background())
	pool.Start(context.Background())
	shutdownWithin(t, pool, time.Second)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	pool := New(&errorQueue{err: errors.New("boom")}, nil)
	err := pool.Enqueue(context.Background(), crawler.QueueItem{})
	require.EqualError(t, err, "queue enqueue: boom")
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Close() {}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, crawler.ErrQueueClosed
}

func (q *errorQueue) Close() {}
