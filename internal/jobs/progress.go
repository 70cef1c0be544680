package jobs

import "sync"

// Snapshot is a progress reading.
type Snapshot struct {
	Processed int
	Total     int
}

// ProgressRegistry holds in-memory progress of running jobs keyed by job ID.
// Workers write to it on every step; the supervisor mirrors it into the job
// row on an interval so the database is not written per transaction.
type ProgressRegistry struct {
	entries map[string]Snapshot
	mu      sync.RWMutex
}

// NewProgressRegistry creates an empty registry.
func NewProgressRegistry() *ProgressRegistry {
	return &ProgressRegistry{entries: make(map[string]Snapshot)}
}

// Set records progress for key.
func (r *ProgressRegistry) Set(key string, processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = Snapshot{Processed: processed, Total: total}
}

// Get returns the last progress recorded for key.
func (r *ProgressRegistry) Get(key string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[key]
	return s, ok
}

// Delete forgets key.
func (r *ProgressRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of tracked keys.
func (r *ProgressRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
