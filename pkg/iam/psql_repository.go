package iam

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX allows the repository to run on either a pool or a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL IAM repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetHelper(ctx context.Context, id uuid.UUID) (Helper, error) {
	var h Helper
	err := r.db.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, organization_id, acting_org_ids,
		       can_create_mandates, is_org_manager, created_at, deactivated_at
		FROM helper WHERE id = $1
	`, id).Scan(&h.ID, &h.Email, &h.FirstName, &h.LastName, &h.OrganizationID,
		&h.ActingOrgIDs, &h.CanCreateMandates, &h.IsOrgManager, &h.CreatedAt, &h.DeactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Helper{}, ErrHelperNotFound{ID: id.String()}
	}
	if err != nil {
		return Helper{}, fmt.Errorf("failed to get helper: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) CreateHelper(ctx context.Context, h Helper) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO helper (id, email, first_name, last_name, organization_id, acting_org_ids,
		                    can_create_mandates, is_org_manager, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, h.ID, h.Email, h.FirstName, h.LastName, h.OrganizationID, h.ActingOrgIDs,
		h.CanCreateMandates, h.IsOrgManager, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create helper: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateHelper(ctx context.Context, h Helper) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE helper
		SET email = $2, first_name = $3, last_name = $4, organization_id = $5,
		    acting_org_ids = $6, can_create_mandates = $7, is_org_manager = $8,
		    deactivated_at = $9
		WHERE id = $1
	`, h.ID, h.Email, h.FirstName, h.LastName, h.OrganizationID, h.ActingOrgIDs,
		h.CanCreateMandates, h.IsOrgManager, h.DeactivatedAt)
	if err != nil {
		return fmt.Errorf("failed to update helper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHelperNotFound{ID: h.ID.String()}
	}
	return nil
}

func (r *PostgresRepository) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	var org Organization
	err := r.db.QueryRow(ctx, `
		SELECT id, name, address, contact_email, created_at FROM organization WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Address, &org.ContactEmail, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, ErrOrganizationNotFound{ID: id.String()}
	}
	if err != nil {
		return Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

func (r *PostgresRepository) CreateOrganization(ctx context.Context, org Organization) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO organization (id, name, address, contact_email, created_at) VALUES ($1, $2, $3, $4, $5)
	`, org.ID, org.Name, org.Address, org.ContactEmail, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetBeneficiary(ctx context.Context, sub string) (Beneficiary, error) {
	var b Beneficiary
	err := r.db.QueryRow(ctx, `
		SELECT sub, given_name, family_name, birthdate, email, phone, created_at
		FROM beneficiary WHERE sub = $1
	`, sub).Scan(&b.Sub, &b.GivenName, &b.FamilyName, &b.Birthdate, &b.Email, &b.Phone, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Beneficiary{}, ErrBeneficiaryNotFound{Sub: sub}
	}
	if err != nil {
		return Beneficiary{}, fmt.Errorf("failed to get beneficiary: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) UpsertBeneficiary(ctx context.Context, b Beneficiary) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO beneficiary (sub, given_name, family_name, birthdate, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sub) DO UPDATE
		SET given_name = EXCLUDED.given_name, family_name = EXCLUDED.family_name,
		    birthdate = EXCLUDED.birthdate, email = EXCLUDED.email, phone = EXCLUDED.phone
	`, b.Sub, b.GivenName, b.FamilyName, b.Birthdate, b.Email, b.Phone, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert beneficiary: %w", err)
	}
	return nil
}
