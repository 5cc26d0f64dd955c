package tracker

import "ssw-flow-tracer/pkg/types"

// RefCountedHandler tracks objects that carry their own reference count
// (types.RefCounted), canonically pooled byte buffers. Registered by default.
type RefCountedHandler struct{}

// Applies reports whether obj exposes a built-in reference count.
func (RefCountedHandler) Applies(obj any) bool {
	_, ok := obj.(types.RefCounted)
	return ok
}

// RefCount reads obj's built-in reference count.
func (RefCountedHandler) RefCount(obj any) int {
	return obj.(types.RefCounted).RefCount()
}

// LivenessHandler tracks generic objects through a user-supplied "is it
// still live?" predicate whose result is mapped to {0, 1}.
type LivenessHandler struct {
	// Matches decides whether this handler claims obj. A nil Matches
	// claims everything.
	Matches func(obj any) bool

	// Alive reports whether obj is still live.
	Alive func(obj any) bool
}

// Applies reports whether this handler claims obj.
func (h LivenessHandler) Applies(obj any) bool {
	if h.Alive == nil {
		return false
	}
	if h.Matches == nil {
		return true
	}
	return h.Matches(obj)
}

// RefCount maps the liveness predicate to a reference count: 1 while live,
// 0 once released.
func (h LivenessHandler) RefCount(obj any) int {
	if h.Alive(obj) {
		return 1
	}
	return 0
}
