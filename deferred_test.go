package plugfx

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeferredQueueDropsWhenFull(t *testing.T) {
	q := newDeferredQueue(3, 50, 100, 500)
	logger := discardLogger()
	var m Metrics

	for i := 0; i < 3; i++ {
		if !q.enqueue("full", Event{}, logger, &m) {
			t.Fatalf("Enqueue %d rejected below capacity", i)
		}
	}
	for i := 0; i < 2; i++ {
		if q.enqueue("full", Event{}, logger, &m) {
			t.Error("Enqueue accepted beyond capacity")
		}
	}

	if q.pending() != 3 {
		t.Errorf("Queue length %d exceeds maximum 3", q.pending())
	}
	if got := atomic.LoadInt64(&m.DeferredDropped); got != 2 {
		t.Errorf("Expected 2 drops, got %d", got)
	}
}

func TestDeferredQueueLoopThreshold(t *testing.T) {
	q := newDeferredQueue(10000, 50, 2, 4)
	logger := discardLogger()
	var m Metrics

	accepted := 0
	for i := 0; i < 6; i++ {
		if q.enqueue("loop", Event{}, logger, &m) {
			accepted++
		}
	}

	// Counter passes the drop threshold at the fifth emission even
	// though the queue has plenty of room.
	if accepted != 4 {
		t.Errorf("Expected 4 accepted emissions, got %d", accepted)
	}
	if got := atomic.LoadInt64(&m.LoopsBroken); got != 2 {
		t.Errorf("Expected 2 loop breaks, got %d", got)
	}

	// Other hook names are unaffected.
	if !q.enqueue("innocent", Event{}, logger, &m) {
		t.Error("Unrelated hook throttled by another hook's loop")
	}
}

func TestDeferredQueueCountersResetOnFullDrain(t *testing.T) {
	q := newDeferredQueue(10000, 50, 2, 4)
	logger := discardLogger()
	var m Metrics

	for i := 0; i < 4; i++ {
		q.enqueue("loop", Event{}, logger, &m)
	}

	// Partial drain keeps the counters.
	q.take(2, &m)
	q.finishDrain()
	if q.enqueue("loop", Event{}, logger, &m) {
		t.Error("Counter should still be above the drop threshold after a partial drain")
	}

	// Full drain resets them.
	q.take(100, &m)
	q.finishDrain()
	if !q.enqueue("loop", Event{}, logger, &m) {
		t.Error("Counter should reset after the queue fully drains")
	}
}

func TestDeferredQueueFIFO(t *testing.T) {
	q := newDeferredQueue(100, 50, 100, 500)
	logger := discardLogger()
	var m Metrics

	q.enqueue("a", Event{"n": 1}, logger, &m)
	q.enqueue("b", Event{"n": 2}, logger, &m)
	q.enqueue("c", Event{"n": 3}, logger, &m)

	batch := q.take(2, &m)
	if len(batch) != 2 || batch[0].hook != "a" || batch[1].hook != "b" {
		t.Errorf("Expected FIFO batch [a b], got %v", batch)
	}
	if q.pending() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", q.pending())
	}
}

func TestEmitDispatchesDeferred(t *testing.T) {
	d := New()
	defer d.Close()

	received := make(chan Event, 1)
	if _, err := d.On("deferred", func(ctx context.Context, event Event, hook Key) (Event, error) {
		received <- event
		return nil, nil
	}, "test", 0); err != nil {
		t.Fatalf("Failed to register handler: %v", err)
	}

	d.Emit("deferred", Event{"payload": 42})

	select {
	case event := <-received:
		if event["payload"] != 42 {
			t.Errorf("Expected payload 42, got %v", event["payload"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deferred event never dispatched")
	}
}

func TestEmitFromHandlerBreaksCycle(t *testing.T) {
	d := New()
	defer d.Close()

	// A dispatch whose handler emits B, whose handler emits A, would
	// grow the stack unboundedly with direct dispatch. Emit defers the
	// second hop to a scheduler tick instead.
	sawB := make(chan struct{}, 1)
	if _, err := d.On("cycle.a", func(ctx context.Context, event Event, hook Key) (Event, error) {
		d.Emit("cycle.b", Event{})
		return nil, nil
	}, "test", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := d.On("cycle.b", func(ctx context.Context, event Event, hook Key) (Event, error) {
		select {
		case sawB <- struct{}{}:
		default:
		}
		return nil, nil
	}, "test", 0); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Dispatch(context.Background(), "cycle.a", Event{}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case <-sawB:
	case <-time.After(2 * time.Second):
		t.Fatal("Emitted event never reached its handler")
	}
}

func TestEmissionLoopIsBroken(t *testing.T) {
	d := New()
	defer d.Close()

	// A handler that re-emits its own hook unconditionally. The
	// per-hook counter crosses the drop threshold after ~500
	// emissions and the storm dies out.
	if _, err := d.On("loop", func(ctx context.Context, event Event, hook Key) (Event, error) {
		d.Emit("loop", Event{})
		return nil, nil
	}, "looper", 0); err != nil {
		t.Fatalf("Failed to register handler: %v", err)
	}

	d.Emit("loop", Event{})

	deadline := time.After(10 * time.Second)
	for {
		if d.Metrics().LoopsBroken > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Loop was never broken")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The dispatcher stays responsive for other hooks.
	ok := false
	if _, err := d.On("healthy", func(ctx context.Context, event Event, hook Key) (Event, error) {
		ok = true
		return nil, nil
	}, "test", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dispatch(context.Background(), "healthy", Event{}); err != nil {
		t.Fatalf("Dispatch failed during loop recovery: %v", err)
	}
	if !ok {
		t.Error("Dispatcher unresponsive after loop break")
	}
}

func TestEmitAfterCloseDropped(t *testing.T) {
	d := New()
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	// No panic, no delivery; fire-and-forget callers get no signal.
	d.Emit("late", Event{})
}
