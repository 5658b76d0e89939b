package journal

import (
	"context"
	"sync"
	"time"
)

// Repository is the append-only journal sink. There are deliberately no
// update or delete operations.
type Repository interface {
	Append(ctx context.Context, entry Entry) error
	FindByAction(ctx context.Context, action Action) ([]Entry, error)
	FindByActor(ctx context.Context, actorID string) ([]Entry, error)
	FindSince(ctx context.Context, since time.Time) ([]Entry, error)
}

// InMemoryRepository implements Repository with an in-process slice.
type InMemoryRepository struct {
	mutex   sync.RWMutex
	entries []Entry
}

// NewInMemoryRepository creates a new in-memory journal repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append stores one journal entry.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// FindByAction returns entries for the given action, oldest first.
func (r *InMemoryRepository) FindByAction(ctx context.Context, action Action) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindByActor returns entries recorded for the given actor, oldest first.
func (r *InMemoryRepository) FindByActor(ctx context.Context, actorID string) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindSince returns entries recorded at or after the given time.
func (r *InMemoryRepository) FindSince(ctx context.Context, since time.Time) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
