package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kalambet/statusbot/internal/metrics"
)

var (
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("event queue full")
)

// Processor runs the asynchronous stages for one admitted event.
type Processor interface {
	Process(ctx context.Context, adm Admission) Outcome
}

// Dispatcher runs admitted events on a fixed pool of workers so the webhook
// can acknowledge before the slow stages run.
type Dispatcher struct {
	proc    Processor
	workers int
	queue   chan Admission
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. workers <= 0 defaults to 4 and
// queueSize <= 0 to 64.
func NewDispatcher(proc Processor, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		proc:    proc,
		workers: workers,
		queue:   make(chan Admission, queueSize),
		logger:  slog.Default(),
	}
}

// Start launches the workers. Events are processed with a context detached
// from ctx's cancellation so a started event always runs to completion;
// per-call timeouts bound each stage instead.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for adm := range d.queue {
				metrics.QueueDepth.Dec()
				d.RunOnce(runCtx, adm)
			}
		}()
	}
}

// RunOnce processes a single admitted event on the calling goroutine.
func (d *Dispatcher) RunOnce(ctx context.Context, adm Admission) Outcome {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event processing panicked", "event_key", adm.Key, "panic", r)
		}
	}()
	return d.proc.Process(ctx, adm)
}

// Submit queues adm without blocking.
func (d *Dispatcher) Submit(ctx context.Context, adm Admission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- adm:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for range d.queue {
			metrics.QueueDepth.Dec()
			d.logger.Warn("dropping event queued before start")
		}
		return
	}
	d.wg.Wait()
}
