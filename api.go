// Package plugfx provides a plugin framework built around a named-event
// hook dispatcher with priority ordering, recursion protection, and
// isolated error handling.
//
// Plugins register handlers against hook names; the dispatcher fans an
// event through the registered handlers in descending priority order,
// threading the result of each handler into the next. Plugins can be
// enabled, disabled, and unregistered at runtime without touching the
// handler tables of other plugins.
//
// Basic Usage:
//
//	d := plugfx.New()
//	defer d.Close()
//
//	d.RegisterPlugin("greeter")
//	binding, err := d.On("greet", func(ctx context.Context, event plugfx.Event, hook plugfx.Key) (plugfx.Event, error) {
//		event["greeting"] = "hi"
//		return event, nil
//	}, "greeter", 10)
//	if err != nil {
//		return err
//	}
//	defer binding.Remove()
//
//	result, err := d.Dispatch(ctx, "greet", plugfx.Event{})
//
// Deferred Emission:
//
// Handlers that need to raise follow-up events must use Emit instead of
// calling Dispatch directly. Emit appends the event to a bounded queue
// drained in capped batches on a scheduler tick, which bounds call-stack
// depth and breaks cross-hook emission cycles:
//
//	d.On("order.created", func(ctx context.Context, event plugfx.Event, hook plugfx.Key) (plugfx.Event, error) {
//		d.Emit("audit.log", plugfx.Event{"source": hook})
//		return nil, nil
//	}, "audit", 0)
//
// Error Isolation:
//
// A failing or panicking handler never aborts the remaining chain. The
// failure is captured and delivered later to handlers registered on the
// HookPluginError key, outside the call stack that produced it:
//
//	d.On(plugfx.HookPluginError, func(ctx context.Context, event plugfx.Event, hook plugfx.Key) (plugfx.Event, error) {
//		log.Printf("plugin %v failed on %v: %v", event["pluginId"], event["hook"], event["error"])
//		return nil, nil
//	}, "reporter", 0)
//
// Resource Management:
//
// The framework enforces limits to prevent memory exhaustion:
//   - Maximum 100 bindings per hook name
//   - Maximum 10,000 total bindings
//   - Deferred queue capped at 1,000 pending events (newest dropped)
//   - Per-hook emission counters break tight emission loops
//
// Handlers should honor context cancellation when a handler timeout is
// configured via WithHandlerTimeout.
package plugfx

import "context"

// Key represents a hook name used in handler registration and dispatch.
// This is a type alias for string that provides semantic meaning and
// encourages the use of package-level constants.
//
// Basic usage with constants (recommended):
//
//	const (
//		FxInit   plugfx.Key = "fx:init"
//		FxBefore plugfx.Key = "fx:before"
//	)
//
//	d.On(FxInit, initHandler, "dom", 0)
//	d.Dispatch(ctx, FxInit, config)
type Key = string

// Reserved hook names.
const (
	// Wildcard matches every dispatch. Handlers bound to it run after
	// the name-specific handlers of whichever hook was dispatched.
	Wildcard Key = "*"

	// HookPluginError receives captured handler failures. Delivery
	// happens on a scheduler tick, never inline with the dispatch that
	// produced the failure. The delivered event carries the keys
	// "pluginId", "hook", "error", and "event" (a snapshot of the
	// accumulator at the time of failure).
	HookPluginError Key = "pluginError"

	// HookSkillChanged is emitted by SkillWatcher when a skill file is
	// created or modified on disk.
	HookSkillChanged Key = "skill:changed"
)

// Event is the open payload type threaded through handlers. Hook payloads
// are duck-typed key-value maps; each hook name documents its own keys.
type Event = map[string]any

// Handler is a callback bound to a hook name. It receives the current
// accumulator and the hook name that triggered it (wildcard handlers use
// this to tell dispatches apart).
//
// Returning a non-nil Event replaces the accumulator for the handlers
// that follow; returning nil keeps the previous accumulator. Returning an
// error (or panicking) records the failure for later HookPluginError
// delivery and continues the chain.
type Handler func(ctx context.Context, event Event, hook Key) (Event, error)

// CloneEvent returns a shallow copy of event, or nil for a nil event.
// The dispatcher uses it to snapshot the accumulator for error entries.
func CloneEvent(event Event) Event {
	if event == nil {
		return nil
	}
	out := make(Event, len(event))
	for k, v := range event {
		out[k] = v
	}
	return out
}
