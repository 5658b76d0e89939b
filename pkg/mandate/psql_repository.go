package mandate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// PostgresRepository implements Repository on PostgreSQL. The multi-row
// operations open their own transaction so a crash mid-operation leaves
// either the old or the new state, never both-partial.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL mandate repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const mandateColumns = "id, organization_id, beneficiary_sub, duration_keyword, created_at, expires_at, remote, revoked_at"
const authorizationColumns = "id, mandate_id, procedure, revoked_at, last_renewal_token"

func scanMandate(row pgx.Row) (Mandate, error) {
	var m Mandate
	var keyword string
	err := row.Scan(&m.ID, &m.OrganizationID, &m.BeneficiarySub, &keyword,
		&m.CreatedAt, &m.ExpiresAt, &m.Remote, &m.RevokedAt)
	if err != nil {
		return Mandate{}, err
	}
	m.DurationKeyword = DurationKeyword(keyword)
	return m, nil
}

func scanAuthorization(row pgx.Row) (Authorization, error) {
	var a Authorization
	var code string
	err := row.Scan(&a.ID, &a.MandateID, &code, &a.RevokedAt, &a.LastRenewalToken)
	if err != nil {
		return Authorization{}, err
	}
	a.Procedure = procedure.Code(code)
	return a, nil
}

func (r *PostgresRepository) GetMandate(ctx context.Context, id uuid.UUID) (Mandate, error) {
	m, err := scanMandate(r.pool.QueryRow(ctx, `
		SELECT `+mandateColumns+` FROM mandate WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mandate{}, ErrMandateNotFound{ID: id.String()}
	}
	if err != nil {
		return Mandate{}, fmt.Errorf("failed to get mandate: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) GetAuthorization(ctx context.Context, id uuid.UUID) (Authorization, error) {
	a, err := scanAuthorization(r.pool.QueryRow(ctx, `
		SELECT `+authorizationColumns+` FROM autorisation WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Authorization{}, ErrAuthorizationNotFound{ID: id.String()}
	}
	if err != nil {
		return Authorization{}, fmt.Errorf("failed to get authorization: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) FindMandatesByBeneficiary(ctx context.Context, sub string) ([]Mandate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+mandateColumns+` FROM mandate WHERE beneficiary_sub = $1 ORDER BY created_at
	`, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to query mandates: %w", err)
	}
	defer rows.Close()

	var out []Mandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mandate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindAuthorizationsByMandate(ctx context.Context, mandateID uuid.UUID) ([]Authorization, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+authorizationColumns+` FROM autorisation WHERE mandate_id = $1
	`, mandateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorizations: %w", err)
	}
	defer rows.Close()
	return collectAuthorizations(rows)
}

func collectAuthorizations(rows pgx.Rows) ([]Authorization, error) {
	var out []Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorization: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const activeAuthorizationQuery = `
	SELECT a.id, a.mandate_id, a.procedure, a.revoked_at, a.last_renewal_token
	FROM autorisation a
	JOIN mandate m ON m.id = a.mandate_id
	WHERE m.organization_id = $1
	  AND m.beneficiary_sub = $2
	  AND a.procedure = $3
	  AND a.revoked_at IS NULL
	  AND m.revoked_at IS NULL
	  AND m.expires_at > $4
`

func (r *PostgresRepository) FindActiveAuthorizations(ctx context.Context, orgID uuid.UUID, sub string, code procedure.Code, now time.Time) ([]Authorization, error) {
	rows, err := r.pool.Query(ctx, activeAuthorizationQuery, orgID, sub, string(code), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active authorizations: %w", err)
	}
	defer rows.Close()
	return collectAuthorizations(rows)
}

func (r *PostgresRepository) CreateMandate(ctx context.Context, m Mandate, auths []Authorization, now time.Time,
	journalFn func(sink journal.Repository, supersededIDs []uuid.UUID) error) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, TransactionError{Op: "create mandate", Err: err}
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent creations for the same organization/beneficiary
	// pair. Row locks alone cannot exclude two inserts that each find
	// nothing to supersede.
	if _, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, m.OrganizationID.String()+":"+m.BeneficiarySub); err != nil {
		return nil, TransactionError{Op: "lock beneficiary", Err: err}
	}

	var superseded []uuid.UUID
	for _, a := range auths {
		rows, err := tx.Query(ctx, `
			UPDATE autorisation a SET revoked_at = $4
			FROM mandate m
			WHERE m.id = a.mandate_id
			  AND m.organization_id = $1
			  AND m.beneficiary_sub = $2
			  AND a.procedure = $3
			  AND a.revoked_at IS NULL
			  AND m.revoked_at IS NULL
			  AND m.expires_at > $4
			RETURNING a.id
		`, m.OrganizationID, m.BeneficiarySub, string(a.Procedure), now)
		if err != nil {
			return nil, TransactionError{Op: "supersede authorizations", Err: err}
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, TransactionError{Op: "supersede authorizations", Err: err}
			}
			superseded = append(superseded, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, TransactionError{Op: "supersede authorizations", Err: err}
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO mandate (id, organization_id, beneficiary_sub, duration_keyword, created_at, expires_at, remote)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.OrganizationID, m.BeneficiarySub, string(m.DurationKeyword), m.CreatedAt, m.ExpiresAt, m.Remote); err != nil {
		return nil, TransactionError{Op: "insert mandate", Err: err}
	}

	for _, a := range auths {
		if _, err := tx.Exec(ctx, `
			INSERT INTO autorisation (id, mandate_id, procedure, last_renewal_token)
			VALUES ($1, $2, $3, $4)
		`, a.ID, a.MandateID, string(a.Procedure), a.LastRenewalToken); err != nil {
			return nil, TransactionError{Op: "insert authorization", Err: err}
		}
	}

	if journalFn != nil {
		if err := journalFn(journal.NewPostgresRepository(tx), superseded); err != nil {
			return nil, TransactionError{Op: "journal mandate creation", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, TransactionError{Op: "create mandate", Err: err}
	}
	return superseded, nil
}

func (r *PostgresRepository) RevokeAuthorization(ctx context.Context, id uuid.UUID, now time.Time,
	journalFn func(sink journal.Repository, a Authorization) error) (Authorization, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Authorization{}, false, TransactionError{Op: "revoke authorization", Err: err}
	}
	defer tx.Rollback(ctx)

	// Conditional update: only an unset revocation timestamp can be written,
	// which keeps it immutable once set.
	a, err := scanAuthorization(tx.QueryRow(ctx, `
		UPDATE autorisation SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING `+authorizationColumns+`
	`, id, now))
	if err == nil {
		if journalFn != nil {
			if err := journalFn(journal.NewPostgresRepository(tx), a); err != nil {
				return Authorization{}, false, TransactionError{Op: "journal authorization revocation", Err: err}
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return Authorization{}, false, TransactionError{Op: "revoke authorization", Err: err}
		}
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Authorization{}, false, fmt.Errorf("failed to revoke authorization: %w", err)
	}

	// Nothing updated: either absent or already revoked.
	existing, err := r.GetAuthorization(ctx, id)
	if err != nil {
		return Authorization{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) RevokeMandate(ctx context.Context, id uuid.UUID, now time.Time,
	journalFn func(sink journal.Repository, m Mandate, revoked []Authorization) error) (Mandate, []Authorization, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Mandate{}, nil, TransactionError{Op: "revoke mandate", Err: err}
	}
	defer tx.Rollback(ctx)

	m, err := scanMandate(tx.QueryRow(ctx, `
		SELECT `+mandateColumns+` FROM mandate WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mandate{}, nil, ErrMandateNotFound{ID: id.String()}
	}
	if err != nil {
		return Mandate{}, nil, TransactionError{Op: "lock mandate", Err: err}
	}

	rows, err := tx.Query(ctx, `
		UPDATE autorisation SET revoked_at = $2
		WHERE mandate_id = $1 AND revoked_at IS NULL
		RETURNING `+authorizationColumns+`
	`, id, now)
	if err != nil {
		return Mandate{}, nil, TransactionError{Op: "revoke authorizations", Err: err}
	}
	revoked, err := collectAuthorizations(rows)
	rows.Close()
	if err != nil {
		return Mandate{}, nil, TransactionError{Op: "revoke authorizations", Err: err}
	}

	if m.RevokedAt == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE mandate SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
		`, id, now); err != nil {
			return Mandate{}, nil, TransactionError{Op: "revoke mandate", Err: err}
		}
		revokedAt := now
		m.RevokedAt = &revokedAt
	}

	if journalFn != nil {
		if err := journalFn(journal.NewPostgresRepository(tx), m, revoked); err != nil {
			return Mandate{}, nil, TransactionError{Op: "journal mandate revocation", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Mandate{}, nil, TransactionError{Op: "revoke mandate", Err: err}
	}
	return m, revoked, nil
}

func (r *PostgresRepository) FindExpiringBetween(ctx context.Context, from, to time.Time) ([]Mandate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+mandateColumns+` FROM mandate
		WHERE revoked_at IS NULL AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring mandates: %w", err)
	}
	defer rows.Close()

	var out []Mandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mandate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) TransferMandate(ctx context.Context, mandateID, newOrgID uuid.UUID, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return TransactionError{Op: "transfer mandate", Err: err}
	}
	defer tx.Rollback(ctx)

	m, err := scanMandate(tx.QueryRow(ctx, `
		SELECT `+mandateColumns+` FROM mandate WHERE id = $1 FOR UPDATE
	`, mandateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMandateNotFound{ID: mandateID.String()}
	}
	if err != nil {
		return TransactionError{Op: "lock mandate", Err: err}
	}

	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM autorisation a
		JOIN mandate m ON m.id = a.mandate_id
		WHERE m.organization_id = $1
		  AND m.beneficiary_sub = $2
		  AND m.id <> $3
		  AND m.revoked_at IS NULL
		  AND m.expires_at > $4
		  AND a.revoked_at IS NULL
		  AND a.procedure IN (
			SELECT procedure FROM autorisation WHERE mandate_id = $3 AND revoked_at IS NULL
		  )
	`, newOrgID, m.BeneficiarySub, mandateID, now).Scan(&conflicts)
	if err != nil {
		return TransactionError{Op: "check transfer conflicts", Err: err}
	}
	if conflicts > 0 {
		return ErrTransferConflict{MandateID: mandateID.String()}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE mandate SET organization_id = $2 WHERE id = $1
	`, mandateID, newOrgID); err != nil {
		return TransactionError{Op: "transfer mandate", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return TransactionError{Op: "transfer mandate", Err: err}
	}
	return nil
}

func (r *PostgresRepository) NextCorrelationID(ctx context.Context,
	journalFn func(sink journal.Repository, id int64) error) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, TransactionError{Op: "next correlation id", Err: err}
	}
	defer tx.Rollback(ctx)

	var last int64
	if err := tx.QueryRow(ctx, `
		SELECT last_id FROM correlation_id_generator FOR UPDATE
	`).Scan(&last); err != nil {
		return 0, TransactionError{Op: "lock correlation generator", Err: err}
	}

	next := last + 1
	if _, err := tx.Exec(ctx, `
		UPDATE correlation_id_generator SET last_id = $1
	`, next); err != nil {
		return 0, TransactionError{Op: "advance correlation generator", Err: err}
	}

	if journalFn != nil {
		if err := journalFn(journal.NewPostgresRepository(tx), next); err != nil {
			return 0, TransactionError{Op: "journal correlation issue", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, TransactionError{Op: "next correlation id", Err: err}
	}
	return next, nil
}
