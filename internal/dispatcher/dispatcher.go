// Package dispatcher runs a fixed pool of workers over a shared queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/worker"
)

// Dispatcher owns the worker goroutines for one run. Start it once, feed it
// with Enqueue, then Shutdown.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	wg      sync.WaitGroup
	started bool
}

// New creates a Dispatcher over queue. Queue capacity is what bounds the
// number of items waiting for a worker.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Start launches every worker. Workers return once the queue is closed and
// drained, or when ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.started {
		return
	}
	d.started = true
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(wk *worker.Worker) {
			defer d.wg.Done()
			wk.Run(ctx)
		}(w)
	}
}

// Enqueue blocks until a slot is free in the queue or ctx ends.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Shutdown closes the queue and waits for all workers to return.
func (d *Dispatcher) Shutdown() {
	d.queue.Close()
	d.wg.Wait()
}
