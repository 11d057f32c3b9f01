package plugfx

import (
	"context"
	"fmt"
)

// pluginRecord tracks one registered plugin. Disabling is a flag flip,
// not a handler-table mutation, so enable/disable stays O(1) and
// re-enabling restores prior behavior exactly.
type pluginRecord struct {
	id       string
	disabled bool
}

// Plugin is the optional setup contract for structured plugins. Setup
// registers the plugin's bindings on the dispatcher and may return
// capability metadata, which the framework stores in the skill registry
// for introspection.
type Plugin interface {
	ID() string
	Setup(ctx context.Context, d *Dispatcher) (*Skill, error)
}

// Register registers p and runs its Setup routine. If setup fails, the
// plugin and any bindings it managed to register are removed again. A
// non-nil returned Skill is stored under the plugin's id.
func (d *Dispatcher) Register(ctx context.Context, p Plugin) error {
	if err := d.RegisterPlugin(p.ID()); err != nil {
		return err
	}
	skill, err := p.Setup(ctx, d)
	if err != nil {
		_ = d.UnregisterPlugin(p.ID())
		return fmt.Errorf("setup plugin %s: %w", p.ID(), err)
	}
	if skill != nil {
		if err := d.skills.Register(p.ID(), skill); err != nil {
			d.logger.Warn("plugin returned invalid skill metadata", "plugin", p.ID(), "error", err)
		}
	}
	return nil
}

// RegisterPlugin creates a plugin record if absent. Registering an
// existing id is a no-op.
func (d *Dispatcher) RegisterPlugin(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, ok := d.plugins[id]; !ok {
		d.plugins[id] = &pluginRecord{id: id}
	}
	return nil
}

// UnregisterPlugin removes the plugin record, every binding it owns
// across every hook, and its skill record if present.
func (d *Dispatcher) UnregisterPlugin(id string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if _, ok := d.plugins[id]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("unregister %s: %w", id, ErrPluginNotFound)
	}
	delete(d.plugins, id)
	d.removePluginBindingsLocked(id)
	d.mu.Unlock()

	d.skills.remove(id)
	return nil
}

// EnablePlugin clears the disabled flag. Idempotent.
func (d *Dispatcher) EnablePlugin(id string) error {
	return d.setDisabled(id, false)
}

// DisablePlugin sets the disabled flag. The plugin's bindings stay
// registered but are skipped at dispatch time. Idempotent.
func (d *Dispatcher) DisablePlugin(id string) error {
	return d.setDisabled(id, true)
}

func (d *Dispatcher) setDisabled(id string, disabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	rec, ok := d.plugins[id]
	if !ok {
		return fmt.Errorf("toggle %s: %w", id, ErrPluginNotFound)
	}
	rec.disabled = disabled
	return nil
}

// Plugins returns the ids of all registered plugins.
func (d *Dispatcher) Plugins() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.plugins))
	for id := range d.plugins {
		out = append(out, id)
	}
	return out
}

// pluginDisabled reports whether id belongs to a disabled plugin.
// Unknown ids are treated as enabled so that bindings do not require a
// prior RegisterPlugin call.
func (d *Dispatcher) pluginDisabled(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.plugins[id]
	return ok && rec.disabled
}
