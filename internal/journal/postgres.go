package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists events in the security_events table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed journal.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts ev.
func (r *PostgresRepository) Append(ctx context.Context, ev Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO security_events (id, user_id, session_id, kind, factor, outcome, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, ev.UserID, ev.SessionID, string(ev.Kind), ev.Factor, ev.Outcome, ev.Detail, ev.At.UTC())
	return err
}

// ListByUser returns the newest events of userID first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, session_id, kind, factor, outcome, detail, created_at
        FROM security_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			id   uuid.UUID
			kind string
			at   time.Time
			ev   Event
		)
		if err := rows.Scan(&id, &ev.UserID, &ev.SessionID, &kind, &ev.Factor, &ev.Outcome, &ev.Detail, &at); err != nil {
			return nil, err
		}
		ev.ID = id.String()
		ev.Kind = Kind(kind)
		ev.At = at.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
