package repository

import (
	"context"
	"sync"
	"time"
)

type idempotencyEntry struct {
	appointmentID string
	expiresAt     time.Time
}

// MemoryIdempotencyRepository is the single-process fallback used when
// Redis is not configured or unreachable.
type MemoryIdempotencyRepository struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func NewMemoryIdempotencyRepository() *MemoryIdempotencyRepository {
	return &MemoryIdempotencyRepository{
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
}

func (r *MemoryIdempotencyRepository) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(key)
	if !ok {
		return "", nil
	}
	return entry.appointmentID, nil
}

func (r *MemoryIdempotencyRepository) Reserve(_ context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.live(key); ok {
		return entry.appointmentID, false, nil
	}
	r.entries[key] = idempotencyEntry{appointmentID: appointmentID, expiresAt: r.now().Add(ttl)}
	return appointmentID, true, nil
}

// live must be called with mu held; it evicts the entry once expired.
func (r *MemoryIdempotencyRepository) live(key string) (idempotencyEntry, bool) {
	entry, ok := r.entries[key]
	if !ok {
		return idempotencyEntry{}, false
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, true
}
