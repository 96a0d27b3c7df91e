package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingProcessor struct {
	mu    sync.Mutex
	keys  []string
	delay time.Duration
	panic bool
}

func (c *countingProcessor) Process(ctx context.Context, adm Admission) Outcome {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.panic {
		panic("boom")
	}
	c.mu.Lock()
	c.keys = append(c.keys, adm.Key)
	c.mu.Unlock()
	return OutcomePosted
}

func TestDispatcherProcessesAllAndDrainsOnClose(t *testing.T) {
	proc := &countingProcessor{delay: 5 * time.Millisecond}
	d := NewDispatcher(proc, 3, 4)
	d.Start(context.Background())

	for i := 0; i < 20; i++ {
		if err := d.Submit(context.Background(), Admission{Key: "k", Event: &Event{}}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	d.Close()

	if len(proc.keys) != 20 {
		t.Fatalf("processed %d events, want 20", len(proc.keys))
	}
	if err := d.Submit(context.Background(), Admission{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Submit after Close = %v, want ErrDispatcherClosed", err)
	}
}

// TestDispatcherDetachesFromCancellation verifies that cancelling the start
// context does not abort queued work.
func TestDispatcherDetachesFromCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	proc := processorFunc(func(ctx context.Context, adm Admission) Outcome {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return OutcomePosted
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(proc, 1, 2)
	d.Start(ctx)
	d.Submit(context.Background(), Admission{Event: &Event{}})
	cancel()
	d.Close()

	if sawCancel.Load() {
		t.Error("processing context was cancelled with the start context")
	}
}

func TestDispatcherSubmitFailsFastWhenFull(t *testing.T) {
	d := NewDispatcher(&countingProcessor{}, 1, 1)
	defer d.Close()

	if err := d.Submit(context.Background(), Admission{}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := d.Submit(context.Background(), Admission{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit on full queue = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Submit blocked on a full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Submit(ctx, Admission{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit with cancelled context = %v, want context.Canceled", err)
	}
}

// TestRejectedEventIsRedelivered hands an accepted event to a closed
// dispatcher; once released, Slack's retry must be admitted and posted.
func TestRejectedEventIsRedelivered(t *testing.T) {
	f := newFixture(t)
	closed := NewDispatcher(f.p, 1, 1)
	closed.Close()

	adm := f.p.Admit(context.Background(), []byte(e1))
	if err := closed.Submit(context.Background(), adm); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Submit = %v, want ErrDispatcherClosed", err)
	}
	f.p.Release(context.Background(), adm)

	retry := f.p.Admit(context.Background(), []byte(e1))
	if retry.Outcome != OutcomeAccepted {
		t.Fatalf("redelivery admission = %s, want accepted", retry.Outcome)
	}
	d := NewDispatcher(f.p, 1, 1)
	d.Start(context.Background())
	if err := d.Submit(context.Background(), retry); err != nil {
		t.Fatal(err)
	}
	d.Close()

	if n := f.slack.postCount(); n != 1 {
		t.Fatalf("posts = %d, want 1", n)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(&countingProcessor{panic: true}, 1, 1)
	d.Start(context.Background())
	d.Submit(context.Background(), Admission{Key: "k"})
	d.Close()
}

// TestDispatcherEndToEnd runs the real pipeline behind the dispatcher.
func TestDispatcherEndToEnd(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.p, 2, 8)
	d.Start(context.Background())

	adm := f.p.Admit(context.Background(), []byte(e1))
	if adm.Outcome != OutcomeAccepted {
		t.Fatalf("admission = %s, want accepted", adm.Outcome)
	}
	if err := d.Submit(context.Background(), adm); err != nil {
		t.Fatal(err)
	}
	if again := f.p.Admit(context.Background(), []byte(e1)); again.Outcome != OutcomeDuplicate {
		t.Fatalf("redelivery admission = %s, want duplicate", again.Outcome)
	}
	d.Close()

	if n := f.slack.postCount(); n != 1 {
		t.Fatalf("posts = %d, want 1", n)
	}
}

type processorFunc func(ctx context.Context, adm Admission) Outcome

func (f processorFunc) Process(ctx context.Context, adm Admission) Outcome { return f(ctx, adm) }
