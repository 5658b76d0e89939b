package secondfactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opencivics/simple-mandate/pkg/journal"
)

// DBTX allows the repository to run on either a pool or a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// uniqueViolationCode is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolationCode = "23505"

// PostgresRepository implements Repository on PostgreSQL. Pairing mutations
// go through GetCardForUpdate so concurrent association attempts serialize on
// the card row.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL card repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

const cardColumns = "serial_number, seed, helper_id, state, tolerance, created_at, confirmed_at"

func (r *PostgresRepository) scanCard(row pgx.Row, serial string) (Card, error) {
	var card Card
	var state string
	err := row.Scan(&card.SerialNumber, &card.Seed, &card.HelperID, &state, &card.Tolerance, &card.CreatedAt, &card.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Card{}, ErrCardNotFound{SerialNumber: serial}
	}
	if err != nil {
		return Card{}, fmt.Errorf("failed to scan card: %w", err)
	}
	card.State = State(state)
	return card, nil
}

// GetCard returns the card with the given serial number.
func (r *PostgresRepository) GetCard(ctx context.Context, serialNumber string) (Card, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM totp_card WHERE serial_number = $1
	`, serialNumber)
	return r.scanCard(row, serialNumber)
}

// GetCardForUpdate returns the card with its row locked until the enclosing
// transaction commits.
func (r *PostgresRepository) GetCardForUpdate(ctx context.Context, serialNumber string) (Card, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM totp_card WHERE serial_number = $1 FOR UPDATE
	`, serialNumber)
	return r.scanCard(row, serialNumber)
}

// GetConfirmedCardByHelper returns the confirmed card paired with a helper.
func (r *PostgresRepository) GetConfirmedCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM totp_card WHERE helper_id = $1 AND state = $2
	`, helperID, string(StateConfirmed))
	return r.scanCard(row, "confirmed card for helper "+helperID.String())
}

// GetCardByHelper returns any card paired with a helper.
func (r *PostgresRepository) GetCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM totp_card WHERE helper_id = $1
	`, helperID)
	return r.scanCard(row, "card for helper "+helperID.String())
}

// CreateCard inserts a new card.
func (r *PostgresRepository) CreateCard(ctx context.Context, card Card) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO totp_card (serial_number, seed, helper_id, state, tolerance, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, card.SerialNumber, card.Seed, card.HelperID, string(card.State), card.Tolerance, card.CreatedAt, card.ConfirmedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrCardConflict{SerialNumber: card.SerialNumber, Detail: "serial number already imported"}
		}
		return fmt.Errorf("failed to insert card %s: %w", card.SerialNumber, err)
	}
	return nil
}

// UpdateCard replaces the mutable card fields.
func (r *PostgresRepository) UpdateCard(ctx context.Context, card Card) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE totp_card
		SET helper_id = $2, state = $3, tolerance = $4, confirmed_at = $5
		WHERE serial_number = $1
	`, card.SerialNumber, card.HelperID, string(card.State), card.Tolerance, card.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", card.SerialNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound{SerialNumber: card.SerialNumber}
	}
	return nil
}

// InTx runs fn in one transaction. Reads through GetCardForUpdate hold their
// row lock until commit, and journal entries appended through the sink commit
// together with the card mutation.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(view Repository, sink journal.Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin card transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(r.WithTx(tx), journal.NewPostgresRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit card transaction: %w", err)
	}
	return nil
}
