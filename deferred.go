package plugfx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// deferredEntry is one queued (hook, event) pair, consumed exactly once
// by the drain loop or dropped when the queue saturates.
type deferredEntry struct {
	hook  Key
	event Event
}

// deferredQueue is the bounded FIFO behind Emit. Per-hook-name counters
// track emission frequency between full drains; they are monotonically
// non-decreasing until the queue empties, then reset to zero.
type deferredQueue struct {
	mu      sync.Mutex
	entries []deferredEntry
	counts  map[Key]int

	max      int
	batch    int
	loopWarn int
	loopDrop int
}

func newDeferredQueue(max, batch, loopWarn, loopDrop int) *deferredQueue {
	return &deferredQueue{
		counts:   make(map[Key]int),
		max:      max,
		batch:    batch,
		loopWarn: loopWarn,
		loopDrop: loopDrop,
	}
}

// Emit queues an event for deferred dispatch and returns immediately.
// This is the mechanism handlers use to raise follow-up events without
// growing the call stack: the entry re-enters the full dispatcher on a
// later scheduler tick.
//
// Emit is fire-and-forget. Events are dropped, with a logged warning,
// when the queue is full or when a single hook name crosses the
// emission loop threshold; callers get no failure signal either way.
func (d *Dispatcher) Emit(hook Key, event Event) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		d.logger.Warn("emit on closed dispatcher", "hook", hook)
		return
	}
	if event == nil {
		event = Event{}
	}

	if d.deferred.enqueue(hook, event, d.logger, &d.metrics) {
		d.nudge()
	}
}

// enqueue applies the saturation and loop checks from the dispatch
// design: a full queue drops the newest entry, and a hook name that has
// emitted more than loopDrop times since the last full drain is cut off
// even while the queue has room.
func (q *deferredQueue) enqueue(hook Key, event Event, logger *slog.Logger, m *Metrics) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.max {
		logger.Warn("deferred queue full, dropping event; this usually indicates an infinite event loop",
			"hook", hook, "max", q.max)
		atomic.AddInt64(&m.DeferredDropped, 1)
		return false
	}

	q.counts[hook]++
	switch count := q.counts[hook]; {
	case count > q.loopDrop:
		logger.Warn("emission loop detected, dropping event", "hook", hook, "count", count)
		atomic.AddInt64(&m.LoopsBroken, 1)
		atomic.AddInt64(&m.DeferredDropped, 1)
		return false
	case count > q.loopWarn:
		logger.Warn("hook emitting unusually often since last drain", "hook", hook, "count", count)
	}

	q.entries = append(q.entries, deferredEntry{hook: hook, event: event})
	atomic.AddInt64(&m.DeferredQueued, 1)
	atomic.StoreInt64(&m.DeferredDepth, int64(len(q.entries)))
	return true
}

// take pops up to n entries in FIFO order.
func (q *deferredQueue) take(n int, m *Metrics) []deferredEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.entries) {
		n = len(q.entries)
	}
	if n == 0 {
		return nil
	}
	batch := make([]deferredEntry, n)
	copy(batch, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	atomic.StoreInt64(&m.DeferredDepth, int64(len(q.entries)))
	return batch
}

// finishDrain resets the per-hook counters once the queue has fully
// drained. While entries remain, counters keep accumulating so a tight
// emission loop cannot dodge the threshold by riding batch boundaries.
func (q *deferredQueue) finishDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 && len(q.counts) > 0 {
		q.counts = make(map[Key]int)
	}
}

func (q *deferredQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// clear discards all pending entries and returns how many were dropped.
// Used during shutdown.
func (q *deferredQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	q.counts = make(map[Key]int)
	return n
}

// schedulerLoop is the dispatcher's single deferred-work goroutine. It
// delivers captured errors and drains the deferred queue in capped
// batches, waking on a nudge after dispatch or emit and on a periodic
// tick as a backstop. Batching caps per-tick latency while guaranteeing
// eventual full drainage absent an unbroken infinite emitter.
func (d *Dispatcher) schedulerLoop() {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.kick:
			d.runTick()
		case <-ticker.C():
			d.runTick()
		case <-d.stop:
			// Deliver errors captured by dispatches that finished
			// before shutdown; pending deferred events are dropped by
			// Close.
			d.deliverErrors()
			return
		}
	}
}

// runTick performs one scheduler pass: error delivery first, then one
// deferred batch. Each deferred entry re-enters Dispatch with a fresh
// call tree, so it gets its own reentrance guard and error capture.
func (d *Dispatcher) runTick() {
	d.deliverErrors()

	batch := d.deferred.take(d.deferred.batch, &d.metrics)
	for _, entry := range batch {
		if _, err := d.Dispatch(context.Background(), entry.hook, entry.event); err != nil {
			d.logger.Warn("deferred dispatch failed", "hook", entry.hook, "error", err)
		}
	}
	if len(batch) > 0 {
		d.logger.Debug("drained deferred batch", "count", len(batch), "remaining", d.deferred.pending())
	}
	d.deferred.finishDrain()

	// Anything emitted while dispatching this batch waits for the next
	// tick; a nudge shortens the wait when a dispatch just queued more.
	if d.deferred.pending() > 0 || d.errq.pending() > 0 {
		d.nudge()
	}
}
