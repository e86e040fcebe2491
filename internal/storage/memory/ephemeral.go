// Package memory provides in-process implementations of the storage contracts.
// They back standalone mode and every unit test.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/cory-johannsen/wildlands/internal/storage"
)

// Ephemeral is a mutex-guarded key/value and list store.
// All methods are safe for concurrent use.
type Ephemeral struct {
	mu     sync.RWMutex
	values map[string]string
	lists  map[string][]string
}

var _ storage.Ephemeral = (*Ephemeral)(nil)

// NewEphemeral creates an empty Ephemeral store.
func NewEphemeral() *Ephemeral {
	return &Ephemeral{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

// Get returns the scalar value at key or storage.ErrNotFound.
func (e *Ephemeral) Get(_ context.Context, key string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

// Set stores value at key.
func (e *Ephemeral) Set(_ context.Context, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = value
	return nil
}

// Delete removes key from both the scalar and list namespaces.
func (e *Ephemeral) Delete(_ context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, key)
	delete(e.lists, key)
	return nil
}

// Keys returns all scalar and list keys beginning with prefix.
func (e *Ephemeral) Keys(_ context.Context, prefix string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0)
	for k := range e.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range e.lists {
		if _, dup := e.values[k]; dup {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Append pushes value onto the list at key and returns the new length.
func (e *Ephemeral) Append(_ context.Context, key, value string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lists[key] = append(e.lists[key], value)
	return len(e.lists[key]), nil
}

// Range returns a copy of list elements in [start, stop] using Redis-style
// negative indexing.
func (e *Ephemeral) Range(_ context.Context, key string, start, stop int) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.lists[key]
	lo, hi, ok := bounds(len(list), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

// Trim keeps list elements in [start, stop]; an empty result deletes the list.
func (e *Ephemeral) Trim(_ context.Context, key string, start, stop int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.lists[key]
	lo, hi, ok := bounds(len(list), start, stop)
	if !ok {
		delete(e.lists, key)
		return nil
	}
	kept := make([]string, hi-lo+1)
	copy(kept, list[lo:hi+1])
	e.lists[key] = kept
	return nil
}

// DeletePrefix removes all keys beginning with prefix.
func (e *Ephemeral) DeletePrefix(_ context.Context, prefix string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for k := range e.values {
		if strings.HasPrefix(k, prefix) {
			delete(e.values, k)
			n++
		}
	}
	for k := range e.lists {
		if strings.HasPrefix(k, prefix) {
			delete(e.lists, k)
			n++
		}
	}
	return n, nil
}

// bounds resolves Redis-style inclusive indexes against a list of length n.
func bounds(n, start, stop int) (int, int, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
