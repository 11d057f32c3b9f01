package plugfx

// Binding is a handle to a registered handler. It provides a way to
// remove the handler from its hook without a reference to the function
// itself (Go function values are not comparable, so removal is
// handle-based).
//
// Binding handles are returned by On() and should be stored if you need
// to unregister the handler later. Removing a plugin removes all of its
// bindings without going through the handles.
//
// Thread Safety:
// Binding methods are safe for concurrent use, but each handle should
// only be removed once. Subsequent calls to Remove() on the same handle
// return ErrAlreadyRemoved.
type Binding struct {
	// remove performs the actual unregistration. It is set during
	// registration and cleared after the first successful removal.
	remove func() error
}

// Remove detaches this binding from its hook.
//
// After calling Remove(), the handle becomes invalid and subsequent
// calls return ErrAlreadyRemoved. The operation is atomic: the binding
// is either fully removed or the call fails.
//
// Returns:
//   - nil: binding successfully removed
//   - ErrAlreadyRemoved: handle was already used or invalid
//   - ErrBindingNotFound: binding no longer exists (e.g. its plugin was
//     unregistered in the meantime)
func (b *Binding) Remove() error {
	if b.remove == nil {
		return ErrAlreadyRemoved
	}
	err := b.remove()
	b.remove = nil
	return err
}
