package plugfx

import "errors"

// Binding Management Errors
//
// These errors are returned when managing binding lifecycle
// (registration, removal, dispatcher state).

// ErrAlreadyRemoved is returned when attempting to remove a binding
// that has already been removed or was never valid.
var ErrAlreadyRemoved = errors.New("binding already removed")

// ErrBindingNotFound is returned when attempting to remove a binding
// that doesn't exist. This can occur in rare race conditions.
var ErrBindingNotFound = errors.New("binding not found")

// ErrNilHandler is returned when registering a nil handler function.
var ErrNilHandler = errors.New("handler is nil")

// Dispatcher Lifecycle Errors
//
// These errors are returned based on the dispatcher's lifecycle state.

// ErrClosed is returned when attempting to use a dispatcher that has
// been closed via Close(). All operations on a closed dispatcher
// return this error.
var ErrClosed = errors.New("dispatcher is closed")

// ErrAlreadyClosed is returned when calling Close() on a dispatcher
// that has already been closed. This prevents double-cleanup.
var ErrAlreadyClosed = errors.New("dispatcher already closed")

// Resource Limit Errors
//
// These errors are returned when resource limits are exceeded
// to prevent memory exhaustion.

// ErrTooManyBindings is returned when registering a binding would
// exceed either:
//   - maxBindingsPerHook (100 bindings for a single hook name)
//   - maxTotalBindings (10,000 total bindings across all hooks)
var ErrTooManyBindings = errors.New("binding limit exceeded")

// Plugin Lifecycle Errors

// ErrPluginNotFound is returned when enabling, disabling, or
// unregistering a plugin id that was never registered.
var ErrPluginNotFound = errors.New("plugin not found")

// Handler Execution Errors

// ErrHandlerPanicked wraps the recovered value of a handler that
// panicked during dispatch. It appears as the error of the resulting
// HookPluginError delivery, never as a Dispatch return value.
var ErrHandlerPanicked = errors.New("handler panicked during dispatch")

// Skill Errors
//
// These errors are returned by the skill registry and the skill
// manifest loader.

// ErrSkillNotFound is returned when looking up a skill name that is
// not registered.
var ErrSkillNotFound = errors.New("skill not found")

// ErrMissingFrontmatter indicates a skill file without a YAML
// frontmatter block.
var ErrMissingFrontmatter = errors.New("skill file has no frontmatter")

// ErrMissingName indicates a skill without a name.
var ErrMissingName = errors.New("skill name is required")

// ErrInvalidName indicates a skill name that is not lowercase
// kebab-case.
var ErrInvalidName = errors.New("skill name must be lowercase kebab-case")

// ErrNameTooLong indicates a skill name exceeding MaxSkillNameLength.
var ErrNameTooLong = errors.New("skill name too long")

// ErrMissingDescription indicates a skill without a description.
var ErrMissingDescription = errors.New("skill description is required")

// ErrDescriptionTooLong indicates a description exceeding
// MaxSkillDescLength.
var ErrDescriptionTooLong = errors.New("skill description too long")

// ErrInvalidPattern indicates a glob pattern that could not be
// compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")
