package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository stores connection sessions. ConsumeCode must be atomic: under
// concurrent callers at most one succeeds for a given code.
type Repository interface {
	GetSession(ctx context.Context, id uuid.UUID) (ConnectionSession, error)
	GetSessionByAccessToken(ctx context.Context, token string) (ConnectionSession, error)
	CreateSession(ctx context.Context, session ConnectionSession) error
	UpdateSession(ctx context.Context, session ConnectionSession) error
	// ConsumeCode resolves a not-yet-consumed authorization code to its
	// session and marks it consumed in the same step.
	ConsumeCode(ctx context.Context, code string) (ConnectionSession, error)
	// DeleteExpiredBefore removes sessions whose TTL lapsed before cutoff
	// and returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryRepository is a mutex-guarded map store for tests and local runs.
type InMemoryRepository struct {
	mutex    sync.Mutex
	sessions map[uuid.UUID]ConnectionSession
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{sessions: make(map[uuid.UUID]ConnectionSession)}
}

func (r *InMemoryRepository) GetSession(ctx context.Context, id uuid.UUID) (ConnectionSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ConnectionSession{}, ErrSessionNotFound{ID: id.String()}
	}
	return s, nil
}

func (r *InMemoryRepository) GetSessionByAccessToken(ctx context.Context, token string) (ConnectionSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if token != "" {
		for _, s := range r.sessions {
			if s.AccessToken == token {
				return s, nil
			}
		}
	}
	return ConnectionSession{}, ErrSessionNotFound{ID: "by access token"}
}

func (r *InMemoryRepository) CreateSession(ctx context.Context, session ConnectionSession) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemoryRepository) UpdateSession(ctx context.Context, session ConnectionSession) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return ErrSessionNotFound{ID: session.ID.String()}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemoryRepository) ConsumeCode(ctx context.Context, code string) (ConnectionSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if code == "" {
		return ConnectionSession{}, InvalidGrantError{Detail: "empty authorization code"}
	}
	for id, s := range r.sessions {
		if s.Code != code {
			continue
		}
		if s.CodeConsumed {
			return ConnectionSession{}, InvalidGrantError{Detail: "authorization code already used"}
		}
		s.CodeConsumed = true
		r.sessions[id] = s
		return s, nil
	}
	return ConnectionSession{}, InvalidGrantError{Detail: "unknown authorization code"}
}

func (r *InMemoryRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var deleted int64
	for id, s := range r.sessions {
		if s.Expired(cutoff) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
