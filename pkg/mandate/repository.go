package mandate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// Repository persists mandates and their authorizations. Multi-row methods
// (CreateMandate, RevokeMandate, TransferMandate) are atomic units: on
// failure nothing is applied. Mutations take a journal callback whose sink,
// when non-nil, is bound to the same unit of work, so ledger entries commit
// together with the state change they record.
type Repository interface {
	GetMandate(ctx context.Context, id uuid.UUID) (Mandate, error)
	GetAuthorization(ctx context.Context, id uuid.UUID) (Authorization, error)
	FindMandatesByBeneficiary(ctx context.Context, sub string) ([]Mandate, error)
	FindAuthorizationsByMandate(ctx context.Context, mandateID uuid.UUID) ([]Authorization, error)
	FindActiveAuthorizations(ctx context.Context, orgID uuid.UUID, sub string, code procedure.Code, now time.Time) ([]Authorization, error)

	// CreateMandate revokes every active authorization covering one of the
	// new mandate's (organization, beneficiary, procedure) triples, then
	// inserts the mandate with its authorizations, all in one unit. The
	// supersession lookup happens inside that unit, so two concurrent
	// creations for the same triple serialize and the later one supersedes
	// the earlier. Returns the superseded authorization ids.
	CreateMandate(ctx context.Context, m Mandate, auths []Authorization, now time.Time,
		journalFn func(sink journal.Repository, supersededIDs []uuid.UUID) error) ([]uuid.UUID, error)

	// RevokeAuthorization sets the revocation timestamp if unset. The bool
	// reports whether this call actually revoked it; journalFn runs only in
	// that case.
	RevokeAuthorization(ctx context.Context, id uuid.UUID, now time.Time,
		journalFn func(sink journal.Repository, a Authorization) error) (Authorization, bool, error)

	// RevokeMandate revokes every live authorization and the mandate itself
	// in one unit, returning the authorizations revoked by this call.
	RevokeMandate(ctx context.Context, id uuid.UUID, now time.Time,
		journalFn func(sink journal.Repository, m Mandate, revoked []Authorization) error) (Mandate, []Authorization, error)

	FindExpiringBetween(ctx context.Context, from, to time.Time) ([]Mandate, error)

	// TransferMandate reassigns one mandate to another organization, failing
	// with ErrTransferConflict when the target already actively covers one of
	// the mandate's live procedures for the same beneficiary.
	TransferMandate(ctx context.Context, mandateID, newOrgID uuid.UUID, now time.Time) error

	// NextCorrelationID issues the next intake correlation id under a
	// serialized read-modify-write.
	NextCorrelationID(ctx context.Context,
		journalFn func(sink journal.Repository, id int64) error) (int64, error)
}

// InMemoryRepository implements Repository with mutex-guarded maps.
type InMemoryRepository struct {
	mutex          sync.Mutex
	mandates       map[uuid.UUID]Mandate
	authorizations map[uuid.UUID]Authorization
	correlation    int64
}

// NewInMemoryRepository creates a new in-memory mandate repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		mandates:       make(map[uuid.UUID]Mandate),
		authorizations: make(map[uuid.UUID]Authorization),
	}
}

func (r *InMemoryRepository) GetMandate(ctx context.Context, id uuid.UUID) (Mandate, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	m, ok := r.mandates[id]
	if !ok {
		return Mandate{}, ErrMandateNotFound{ID: id.String()}
	}
	return m, nil
}

func (r *InMemoryRepository) GetAuthorization(ctx context.Context, id uuid.UUID) (Authorization, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	a, ok := r.authorizations[id]
	if !ok {
		return Authorization{}, ErrAuthorizationNotFound{ID: id.String()}
	}
	return a, nil
}

func (r *InMemoryRepository) FindMandatesByBeneficiary(ctx context.Context, sub string) ([]Mandate, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []Mandate
	for _, m := range r.mandates {
		if m.BeneficiarySub == sub {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) FindAuthorizationsByMandate(ctx context.Context, mandateID uuid.UUID) ([]Authorization, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.authorizationsByMandateLocked(mandateID), nil
}

func (r *InMemoryRepository) authorizationsByMandateLocked(mandateID uuid.UUID) []Authorization {
	var out []Authorization
	for _, a := range r.authorizations {
		if a.MandateID == mandateID {
			out = append(out, a)
		}
	}
	return out
}

func (r *InMemoryRepository) FindActiveAuthorizations(ctx context.Context, orgID uuid.UUID, sub string, code procedure.Code, now time.Time) ([]Authorization, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.findActiveAuthorizationsLocked(orgID, sub, code, now), nil
}

func (r *InMemoryRepository) findActiveAuthorizationsLocked(orgID uuid.UUID, sub string, code procedure.Code, now time.Time) []Authorization {
	var out []Authorization
	for _, a := range r.authorizations {
		if a.IsRevoked() || a.Procedure != code {
			continue
		}
		m, ok := r.mandates[a.MandateID]
		if !ok || m.OrganizationID != orgID || m.BeneficiarySub != sub {
			continue
		}
		if m.IsActive(now) {
			out = append(out, a)
		}
	}
	return out
}

func (r *InMemoryRepository) CreateMandate(ctx context.Context, m Mandate, auths []Authorization, now time.Time,
	journalFn func(sink journal.Repository, supersededIDs []uuid.UUID) error) ([]uuid.UUID, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var superseded []uuid.UUID
	prior := make(map[uuid.UUID]Authorization)
	for _, a := range auths {
		for _, old := range r.findActiveAuthorizationsLocked(m.OrganizationID, m.BeneficiarySub, a.Procedure, now) {
			prior[old.ID] = old
			revokedAt := now
			old.RevokedAt = &revokedAt
			r.authorizations[old.ID] = old
			superseded = append(superseded, old.ID)
		}
	}

	r.mandates[m.ID] = m
	for _, a := range auths {
		r.authorizations[a.ID] = a
	}

	if journalFn != nil {
		if err := journalFn(nil, superseded); err != nil {
			for id, old := range prior {
				r.authorizations[id] = old
			}
			delete(r.mandates, m.ID)
			for _, a := range auths {
				delete(r.authorizations, a.ID)
			}
			return nil, err
		}
	}
	return superseded, nil
}

func (r *InMemoryRepository) RevokeAuthorization(ctx context.Context, id uuid.UUID, now time.Time,
	journalFn func(sink journal.Repository, a Authorization) error) (Authorization, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, ok := r.authorizations[id]
	if !ok {
		return Authorization{}, false, ErrAuthorizationNotFound{ID: id.String()}
	}
	if a.RevokedAt != nil {
		return a, false, nil
	}
	prior := a
	revokedAt := now
	a.RevokedAt = &revokedAt
	r.authorizations[id] = a

	if journalFn != nil {
		if err := journalFn(nil, a); err != nil {
			r.authorizations[id] = prior
			return Authorization{}, false, err
		}
	}
	return a, true, nil
}

func (r *InMemoryRepository) RevokeMandate(ctx context.Context, id uuid.UUID, now time.Time,
	journalFn func(sink journal.Repository, m Mandate, revoked []Authorization) error) (Mandate, []Authorization, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, ok := r.mandates[id]
	if !ok {
		return Mandate{}, nil, ErrMandateNotFound{ID: id.String()}
	}
	priorMandate := m

	var revoked []Authorization
	priorAuths := make(map[uuid.UUID]Authorization)
	for _, a := range r.authorizationsByMandateLocked(id) {
		if a.RevokedAt != nil {
			continue
		}
		priorAuths[a.ID] = a
		revokedAt := now
		a.RevokedAt = &revokedAt
		r.authorizations[a.ID] = a
		revoked = append(revoked, a)
	}

	if m.RevokedAt == nil {
		revokedAt := now
		m.RevokedAt = &revokedAt
		r.mandates[id] = m
	}

	if journalFn != nil {
		if err := journalFn(nil, m, revoked); err != nil {
			for aid, a := range priorAuths {
				r.authorizations[aid] = a
			}
			r.mandates[id] = priorMandate
			return Mandate{}, nil, err
		}
	}
	return m, revoked, nil
}

func (r *InMemoryRepository) FindExpiringBetween(ctx context.Context, from, to time.Time) ([]Mandate, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Mandate
	for _, m := range r.mandates {
		if m.IsActive(from) && !m.ExpiresAt.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) TransferMandate(ctx context.Context, mandateID, newOrgID uuid.UUID, now time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, ok := r.mandates[mandateID]
	if !ok {
		return ErrMandateNotFound{ID: mandateID.String()}
	}

	for _, a := range r.authorizationsByMandateLocked(mandateID) {
		if a.IsRevoked() {
			continue
		}
		for _, conflict := range r.findActiveAuthorizationsLocked(newOrgID, m.BeneficiarySub, a.Procedure, now) {
			if conflict.MandateID != mandateID {
				return ErrTransferConflict{MandateID: mandateID.String()}
			}
		}
	}

	m.OrganizationID = newOrgID
	r.mandates[mandateID] = m
	return nil
}

func (r *InMemoryRepository) NextCorrelationID(ctx context.Context,
	journalFn func(sink journal.Repository, id int64) error) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.correlation++
	if journalFn != nil {
		if err := journalFn(nil, r.correlation); err != nil {
			r.correlation--
			return 0, err
		}
	}
	return r.correlation, nil
}
