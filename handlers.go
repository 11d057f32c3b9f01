package plugfx

import (
	"cmp"
	"slices"
)

// Resource limits prevent memory exhaustion from unbounded registration.
// These limits are enforced during binding registration.
const (
	maxBindingsPerHook = 100   // Prevents a single hook from dominating memory
	maxTotalBindings   = 10000 // Prevents unlimited registration across all hooks
)

// binding is one registered handler: the owning plugin, the callback,
// and its priority on the hook it is attached to. A binding belongs to
// exactly one hook's list; wildcard bindings live in the Wildcard list.
type binding struct {
	id       string
	pluginID string
	priority int
	fn       Handler
}

// insertBinding appends b and re-sorts the list by descending priority.
// The sort is stable, so bindings with equal priority keep their
// registration order. Handler counts per hook are small, so the re-sort
// on every insert is acceptable.
func insertBinding(list []binding, b binding) []binding {
	list = append(list, b)
	slices.SortStableFunc(list, func(a, b binding) int {
		return cmp.Compare(b.priority, a.priority)
	})
	return list
}

// removeBindingLocked removes the binding with the given id from the
// hook's list. Callers must hold d.mu.
func (d *Dispatcher) removeBindingLocked(hook Key, id string) error {
	list := d.handlers[hook]
	for i, b := range list {
		if b.id == id {
			d.handlers[hook] = append(list[:i], list[i+1:]...)

			// Clean up empty hook lists to prevent memory leaks.
			if len(d.handlers[hook]) == 0 {
				delete(d.handlers, hook)
			}

			d.totalBindings--
			return nil
		}
	}
	return ErrBindingNotFound
}

// removePluginBindingsLocked sweeps every hook's list removing bindings
// owned by pluginID. Called by plugin unregistration. Callers must hold
// d.mu.
func (d *Dispatcher) removePluginBindingsLocked(pluginID string) {
	for hook, list := range d.handlers {
		kept := list[:0]
		for _, b := range list {
			if b.pluginID == pluginID {
				d.totalBindings--
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			delete(d.handlers, hook)
			continue
		}
		d.handlers[hook] = kept
	}
}

// snapshot returns the combined handler list for one dispatch: bindings
// for the hook name followed by Wildcard bindings. The two lists are
// concatenated, not merged, so wildcard handlers always execute after
// the name-specific ones. The returned slice is a copy and safe to
// iterate without holding the lock.
func (d *Dispatcher) snapshot(hook Key) []binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	named := d.handlers[hook]
	var wild []binding
	if hook != Wildcard {
		wild = d.handlers[Wildcard]
	}

	out := make([]binding, 0, len(named)+len(wild))
	out = append(out, named...)
	out = append(out, wild...)
	return out
}

// snapshotNamed returns a copy of the bindings for the literal hook name
// only, without wildcard fan-out. Used for HookPluginError delivery.
func (d *Dispatcher) snapshotNamed(hook Key) []binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.handlers[hook]
	out := make([]binding, len(list))
	copy(out, list)
	return out
}
