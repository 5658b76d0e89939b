package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// DBTX allows the repository to run on either a pool or a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository on PostgreSQL. Code consumption
// is a single conditional UPDATE, so at most one exchange per code succeeds
// under concurrent callers.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL session repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

const sessionColumns = `id, organization_id, helper_id, procedures, duration_keyword, remote,
	state, nonce, oauth_state, redirect_uri, access_token, code, code_consumed, code_challenge,
	challenge_method, beneficiary_sub, mandate_id, created_at, expires_at`

func scanSession(row pgx.Row, ref string) (ConnectionSession, error) {
	var s ConnectionSession
	var state string
	var procedures []string
	var duration string
	err := row.Scan(&s.ID, &s.OrganizationID, &s.HelperID, &procedures, &duration, &s.Remote,
		&state, &s.Nonce, &s.OAuthState, &s.RedirectURI, &s.AccessToken, &s.Code, &s.CodeConsumed,
		&s.CodeChallenge, &s.ChallengeMethod, &s.BeneficiarySub, &s.MandateID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConnectionSession{}, ErrSessionNotFound{ID: ref}
	}
	if err != nil {
		return ConnectionSession{}, fmt.Errorf("failed to scan connection session: %w", err)
	}
	s.State = State(state)
	s.DurationKeyword = mandate.DurationKeyword(duration)
	for _, p := range procedures {
		s.Procedures = append(s.Procedures, procedure.Code(p))
	}
	return s, nil
}

// GetSession returns the session with the given id.
func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (ConnectionSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM connection_session WHERE id = $1
	`, id)
	return scanSession(row, id.String())
}

// GetSessionByAccessToken returns the session carrying the given token.
func (r *PostgresRepository) GetSessionByAccessToken(ctx context.Context, token string) (ConnectionSession, error) {
	if token == "" {
		return ConnectionSession{}, ErrSessionNotFound{ID: "by access token"}
	}
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM connection_session WHERE access_token = $1
	`, token)
	return scanSession(row, "by access token")
}

// CreateSession inserts a new session.
func (r *PostgresRepository) CreateSession(ctx context.Context, s ConnectionSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO connection_session (id, organization_id, helper_id, procedures, duration_keyword,
			remote, state, nonce, oauth_state, redirect_uri, access_token, code, code_consumed,
			code_challenge, challenge_method, beneficiary_sub, mandate_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, s.ID, s.OrganizationID, s.HelperID, procedure.SortedStrings(s.Procedures), string(s.DurationKeyword),
		s.Remote, string(s.State), s.Nonce, s.OAuthState, s.RedirectURI, s.AccessToken, s.Code,
		s.CodeConsumed, s.CodeChallenge, s.ChallengeMethod, s.BeneficiarySub, s.MandateID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert connection session %s: %w", s.ID, err)
	}
	return nil
}

// UpdateSession replaces the mutable session fields.
func (r *PostgresRepository) UpdateSession(ctx context.Context, s ConnectionSession) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE connection_session
		SET organization_id = $2, helper_id = $3, procedures = $4, duration_keyword = $5,
			remote = $6, state = $7, access_token = $8, code = $9, code_consumed = $10,
			beneficiary_sub = $11, mandate_id = $12
		WHERE id = $1
	`, s.ID, s.OrganizationID, s.HelperID, procedure.SortedStrings(s.Procedures), string(s.DurationKeyword),
		s.Remote, string(s.State), s.AccessToken, s.Code, s.CodeConsumed, s.BeneficiarySub, s.MandateID)
	if err != nil {
		return fmt.Errorf("failed to update connection session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound{ID: s.ID.String()}
	}
	return nil
}

// ConsumeCode marks the code consumed and returns its session. The
// conditional UPDATE guarantees at most one success per code.
func (r *PostgresRepository) ConsumeCode(ctx context.Context, code string) (ConnectionSession, error) {
	if code == "" {
		return ConnectionSession{}, InvalidGrantError{Detail: "empty authorization code"}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE connection_session
		SET code_consumed = TRUE
		WHERE code = $1 AND code_consumed = FALSE
		RETURNING `+sessionColumns+`
	`, code)
	s, err := scanSession(row, "by authorization code")
	if err != nil {
		var notFound ErrSessionNotFound
		if errors.As(err, &notFound) {
			return ConnectionSession{}, InvalidGrantError{Detail: "authorization code unknown or already used"}
		}
		return ConnectionSession{}, err
	}
	return s, nil
}

// DeleteExpiredBefore removes lapsed sessions.
func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM connection_session WHERE expires_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired connection sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
