package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX allows the repository to run on either a connection pool or an open
// transaction, so journal writes can join the owning transaction of a ledger
// operation.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL journal repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts one journal entry. The journal table carries no UPDATE or
// DELETE path anywhere in this codebase.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal journal payload: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO journal_entry (id, action, actor_id, recorded_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, string(entry.Action), entry.ActorID, entry.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// FindByAction returns entries for the given action, oldest first.
func (r *PostgresRepository) FindByAction(ctx context.Context, action Action) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, action, actor_id, recorded_at, payload
		FROM journal_entry
		WHERE action = $1
		ORDER BY recorded_at
	`, string(action))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal by action: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindByActor returns entries recorded for the given actor, oldest first.
func (r *PostgresRepository) FindByActor(ctx context.Context, actorID string) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, action, actor_id, recorded_at, payload
		FROM journal_entry
		WHERE actor_id = $1
		ORDER BY recorded_at
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal by actor: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindSince returns entries recorded at or after the given time.
func (r *PostgresRepository) FindSince(ctx context.Context, since time.Time) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, action, actor_id, recorded_at, payload
		FROM journal_entry
		WHERE recorded_at >= $1
		ORDER BY recorded_at
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal since: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			action  string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.ActorID, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Action = Action(action)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal journal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
