package coordinator

import (
	"sync"
)

// InFlightRegistry is the set of execution keys currently being worked on.
// It provides mutual exclusion per automator per network and nothing else;
// it is never persisted and empties itself as executions finish.
type InFlightRegistry struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInFlightRegistry creates an empty registry
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		keys: make(map[string]struct{}),
	}
}

// Add inserts the key and reports whether it was newly inserted. A false
// return means another execution already holds the key.
func (r *InFlightRegistry) Add(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[key]; exists {
		return false
	}
	r.keys[key] = struct{}{}
	return true
}

// Remove releases the key. Removing an absent key is a no-op.
func (r *InFlightRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
}

// Contains reports whether the key is currently held
func (r *InFlightRegistry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.keys[key]
	return exists
}

// Len returns the number of in-flight executions
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
