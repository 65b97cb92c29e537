package unpickle

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrEmptyTag is returned when a handler is registered under an empty tag.
	ErrEmptyTag = errors.New("unpickle: empty tag")
	// ErrNilHandler is returned when a nil HandlerFunc is registered.
	ErrNilHandler = errors.New("unpickle: nil handler")
	// ErrDuplicateTag is returned when a tag is registered twice.
	ErrDuplicateTag = errors.New("unpickle: duplicate tag")
	// ErrRegistryFrozen is returned when registering into a frozen registry.
	ErrRegistryFrozen = errors.New("unpickle: registry frozen")
)

// HandlerFunc reconstructs a typed value from the decoded fields of a tagged
// object. The tag key itself is never present in fields. A non-nil error is
// logged by the decoder; the returned value is still used.
type HandlerFunc func(fields map[string]any) (any, error)

// Registry maps type tags to handlers.
//
// A Registry is filled once at start-up and then frozen. Lookups are safe for
// concurrent use at any time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	frozen   atomic.Bool
}

// NewRegistry returns an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register associates tag with h.
func (r *Registry) Register(tag string, h HandlerFunc) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if h == nil {
		return ErrNilHandler
	}
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under lock in case Freeze raced with us.
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, ok := r.handlers[tag]; ok {
		return ErrDuplicateTag
	}
	r.handlers[tag] = h
	return nil
}

// MustRegister is Register for package-level tables; it panics on error.
func (r *Registry) MustRegister(tag string, h HandlerFunc) *Registry {
	if err := r.Register(tag, h); err != nil {
		panic(err.Error() + ": " + tag)
	}
	return r
}

// Freeze makes the registry read-only. It returns r for chaining.
func (r *Registry) Freeze() *Registry {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
	return r
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r != nil && r.frozen.Load()
}

// Lookup returns the handler registered for tag.
func (r *Registry) Lookup(tag string) (HandlerFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	h, ok := r.handlers[tag]
	r.mu.RUnlock()
	return h, ok
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		out = append(out, tag)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
