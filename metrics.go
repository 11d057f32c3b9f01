package plugfx

import "sync/atomic"

// Metrics provides observability data for dispatcher monitoring.
// All counter fields use atomic operations for thread safety; the
// binding gauge is read under the registration mutex.
type Metrics struct {
	// Dispatch Counters (atomic operations required)
	Dispatches        int64 // Completed Dispatch calls
	HandlersInvoked   int64 // Individual handler executions
	HandlerFailures   int64 // Handler errors and panics captured
	RecursionRejected int64 // Dispatches rejected by the reentrance guard

	// Deferred Queue Counters
	DeferredQueued  int64 // Events accepted by Emit
	DeferredDropped int64 // Events dropped (queue full, loop break, shutdown)
	DeferredDepth   int64 // Current pending deferred events
	LoopsBroken     int64 // Per-hook emission counter crossings of the drop threshold

	// Error Pipeline Counters
	ErrorsDelivered int64 // Error entries delivered to pluginError handlers

	// Registration Gauge (requires mutex read)
	RegisteredBindings int64 // Current bindings across all hooks
}

// Metrics returns a snapshot of current dispatcher metrics.
// Counter values are read atomically; RegisteredBindings acquires the
// registration mutex for consistency with On/Remove operations.
func (d *Dispatcher) Metrics() Metrics {
	d.mu.RLock()
	registered := int64(d.totalBindings)
	d.mu.RUnlock()

	return Metrics{
		Dispatches:         atomic.LoadInt64(&d.metrics.Dispatches),
		HandlersInvoked:    atomic.LoadInt64(&d.metrics.HandlersInvoked),
		HandlerFailures:    atomic.LoadInt64(&d.metrics.HandlerFailures),
		RecursionRejected:  atomic.LoadInt64(&d.metrics.RecursionRejected),
		DeferredQueued:     atomic.LoadInt64(&d.metrics.DeferredQueued),
		DeferredDropped:    atomic.LoadInt64(&d.metrics.DeferredDropped),
		DeferredDepth:      atomic.LoadInt64(&d.metrics.DeferredDepth),
		LoopsBroken:        atomic.LoadInt64(&d.metrics.LoopsBroken),
		ErrorsDelivered:    atomic.LoadInt64(&d.metrics.ErrorsDelivered),
		RegisteredBindings: registered,
	}
}
