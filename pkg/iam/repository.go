package iam

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository persists helpers, organizations and beneficiaries.
type Repository interface {
	GetHelper(ctx context.Context, id uuid.UUID) (Helper, error)
	CreateHelper(ctx context.Context, helper Helper) error
	UpdateHelper(ctx context.Context, helper Helper) error

	GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error)
	CreateOrganization(ctx context.Context, org Organization) error

	GetBeneficiary(ctx context.Context, sub string) (Beneficiary, error)
	UpsertBeneficiary(ctx context.Context, beneficiary Beneficiary) error
}

// InMemoryRepository implements Repository with mutex-guarded maps.
type InMemoryRepository struct {
	mutex         sync.RWMutex
	helpers       map[uuid.UUID]Helper
	organizations map[uuid.UUID]Organization
	beneficiaries map[string]Beneficiary
}

// NewInMemoryRepository creates a new in-memory IAM repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		helpers:       make(map[uuid.UUID]Helper),
		organizations: make(map[uuid.UUID]Organization),
		beneficiaries: make(map[string]Beneficiary),
	}
}

func (r *InMemoryRepository) GetHelper(ctx context.Context, id uuid.UUID) (Helper, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	helper, ok := r.helpers[id]
	if !ok {
		return Helper{}, ErrHelperNotFound{ID: id.String()}
	}
	return helper, nil
}

func (r *InMemoryRepository) CreateHelper(ctx context.Context, helper Helper) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.helpers[helper.ID] = helper
	return nil
}

func (r *InMemoryRepository) UpdateHelper(ctx context.Context, helper Helper) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.helpers[helper.ID]; !ok {
		return ErrHelperNotFound{ID: helper.ID.String()}
	}
	r.helpers[helper.ID] = helper
	return nil
}

func (r *InMemoryRepository) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	org, ok := r.organizations[id]
	if !ok {
		return Organization{}, ErrOrganizationNotFound{ID: id.String()}
	}
	return org, nil
}

func (r *InMemoryRepository) CreateOrganization(ctx context.Context, org Organization) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.organizations[org.ID] = org
	return nil
}

func (r *InMemoryRepository) GetBeneficiary(ctx context.Context, sub string) (Beneficiary, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	beneficiary, ok := r.beneficiaries[sub]
	if !ok {
		return Beneficiary{}, ErrBeneficiaryNotFound{Sub: sub}
	}
	return beneficiary, nil
}

func (r *InMemoryRepository) UpsertBeneficiary(ctx context.Context, beneficiary Beneficiary) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.beneficiaries[beneficiary.Sub] = beneficiary
	return nil
}
