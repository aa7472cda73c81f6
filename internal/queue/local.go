package queue

import (
	"context"
	"errors"
	"sync"

	"trial-estimator/internal/shared/telemetry"
)

// ErrDispatcherClosed is returned by Send after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// HandlerFunc runs one message.
type HandlerFunc func(ctx context.Context, msg Message) error

// Dispatcher is an in-process queue backed by a fixed pool of goroutines.
// It is used when no SQS queue is configured.
type Dispatcher struct {
	workers int
	jobs    chan Message

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher constructs a dispatcher with the given pool and buffer sizes.
func NewDispatcher(workers, buffer int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Dispatcher{workers: workers, jobs: make(chan Message, buffer)}
}

// Start launches the workers. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context, handle HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, handle)
	}
}

func (d *Dispatcher) run(ctx context.Context, handle HandlerFunc) {
	defer d.wg.Done()
	for msg := range d.jobs {
		if err := handle(ctx, msg); err != nil {
			telemetry.Error("worker.job.failed", map[string]any{
				"job_id":     msg.JobID,
				"study_id":   msg.StudyID,
				"request_id": msg.RequestID,
				"error":      err,
			})
		}
	}
}

// Send enqueues msg, blocking while the buffer is full.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages, lets the workers drain the buffer and
// waits for them to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

var _ Client = (*Dispatcher)(nil)
