package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Closer interface {
	Close(ctx context.Context) error
}

type CloserFunc func(ctx context.Context) error

func (f CloserFunc) Close(ctx context.Context) error { return f(ctx) }

// Registry collects everything a process started so shutdown is one call.
// Entries close in reverse registration order: subscriptions registered after
// their broker connection are closed before it.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
	closed  bool
}

type registryEntry struct {
	name string
	c    Closer
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(name string, c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registryEntry{name: name, c: c})
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.name)
	}
	return out
}

// Shutdown closes every entry once, even when ctx has already expired, and
// joins their errors.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entries[i].name, err))
		}
	}
	return errors.Join(errs...)
}
