package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/libs/db"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
)

// SessionRepository scopes sessions by sessions.user_id when the deployment
// has that column and through the owning client otherwise.
type SessionRepository struct {
	pool *db.Pool
	caps Capabilities
}

func NewSessionRepository(pool *db.Pool, caps Capabilities) *SessionRepository {
	return &SessionRepository{pool: pool, caps: caps}
}

func (r *SessionRepository) Create(ctx context.Context, tx pgx.Tx, s *model.Session) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	var err error
	if r.caps.SessionsHaveOwner {
		err = tx.QueryRow(ctx, `
			INSERT INTO sessions (id, client_id, user_id, title, scheduled_at, duration_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, s.ID, s.ClientID, s.UserID, s.Title, s.ScheduledAt, s.DurationMinutes).Scan(&s.CreatedAt)
	} else {
		err = tx.QueryRow(ctx, `
			INSERT INTO sessions (id, client_id, title, scheduled_at, duration_minutes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, s.ID, s.ClientID, s.Title, s.ScheduledAt, s.DurationMinutes).Scan(&s.CreatedAt)
	}
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (r *SessionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID, sessionID string) (model.Session, error) {
	if uuid.Validate(sessionID) != nil {
		return model.Session{}, pgx.ErrNoRows
	}
	query := `
		SELECT s.id::text, s.client_id::text, c.user_id, s.title, s.scheduled_at, s.duration_minutes, s.created_at
		FROM sessions s
		JOIN clients c ON c.id = s.client_id
		WHERE s.id = $1 AND c.user_id = $2
		FOR UPDATE OF s
	`
	if r.caps.SessionsHaveOwner {
		query = `
			SELECT s.id::text, s.client_id::text, s.user_id, s.title, s.scheduled_at, s.duration_minutes, s.created_at
			FROM sessions s
			WHERE s.id = $1 AND s.user_id = $2
			FOR UPDATE
		`
	}
	var s model.Session
	err := tx.QueryRow(ctx, query, sessionID, userID).Scan(
		&s.ID, &s.ClientID, &s.UserID, &s.Title, &s.ScheduledAt, &s.DurationMinutes, &s.CreatedAt,
	)
	return s, err
}

func (r *SessionRepository) Reschedule(ctx context.Context, tx pgx.Tx, sessionID string, scheduledAt time.Time, durationMinutes *int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET scheduled_at = $2, duration_minutes = COALESCE($3, duration_minutes)
		WHERE id = $1
	`, sessionID, scheduledAt, durationMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SessionCommitments lists dated sessions overlapping [from, to).
func (r *SessionRepository) SessionCommitments(ctx context.Context, userID string, from, to time.Time) ([]availability.Commitment, error) {
	query := `
		SELECT s.id::text, s.scheduled_at, s.duration_minutes
		FROM sessions s
		JOIN clients c ON c.id = s.client_id
		WHERE c.user_id = $1
			AND s.scheduled_at IS NOT NULL
			AND s.scheduled_at < $3
			AND s.scheduled_at + make_interval(mins => COALESCE(s.duration_minutes, $4::int)) > $2
		ORDER BY s.scheduled_at ASC
	`
	if r.caps.SessionsHaveOwner {
		query = `
			SELECT s.id::text, s.scheduled_at, s.duration_minutes
			FROM sessions s
			WHERE s.user_id = $1
				AND s.scheduled_at IS NOT NULL
				AND s.scheduled_at < $3
				AND s.scheduled_at + make_interval(mins => COALESCE(s.duration_minutes, $4::int)) > $2
			ORDER BY s.scheduled_at ASC
		`
	}
	q, release := querier(ctx, r.pool)
	defer release()
	rows, err := q.Query(ctx, query, userID, from, to, model.DefaultDurationMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Commitment
	for rows.Next() {
		var c availability.Commitment
		if err := rows.Scan(&c.ID, &c.ScheduledAt, &c.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
