package plugfx

import (
	"context"
	"sync"
	"sync/atomic"
)

// errorEntry captures one handler failure without interrupting the
// dispatch chain that produced it.
type errorEntry struct {
	ID       string // Correlation id for log lines
	PluginID string
	Hook     Key
	Err      error
	Snapshot Event // Accumulator at the time of failure
}

// errorQueue accumulates handler failures for asynchronous delivery to
// HookPluginError subscribers.
type errorQueue struct {
	mu      sync.Mutex
	entries []errorEntry
}

func (q *errorQueue) capture(e errorEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

func (q *errorQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// drain removes and returns all captured entries.
func (q *errorQueue) drain() []errorEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}

// deliverErrors hands each captured entry to the handlers registered on
// the literal HookPluginError key. Wildcard handlers are not fanned in.
// Delivery runs outside the call stack that captured the error, on the
// scheduler goroutine.
//
// A failing pluginError handler is logged and swallowed; its failure is
// never re-queued, which keeps the error pipeline from feeding itself.
func (d *Dispatcher) deliverErrors() {
	entries := d.errq.drain()
	if len(entries) == 0 {
		return
	}

	targets := d.snapshotNamed(HookPluginError)
	for _, e := range entries {
		if len(targets) == 0 {
			d.logger.Error("handler failed with no pluginError subscribers",
				"id", e.ID, "plugin", e.PluginID, "hook", e.Hook, "error", e.Err)
			continue
		}

		event := Event{
			"id":       e.ID,
			"pluginId": e.PluginID,
			"hook":     e.Hook,
			"error":    e.Err,
			"event":    e.Snapshot,
		}
		for _, b := range targets {
			if d.pluginDisabled(b.pluginID) {
				continue
			}
			if _, err := d.invoke(context.Background(), b, event, HookPluginError); err != nil {
				d.logger.Warn("pluginError handler failed",
					"id", e.ID, "plugin", b.pluginID, "error", err)
			}
		}
		atomic.AddInt64(&d.metrics.ErrorsDelivered, 1)
	}
}
