package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/libs/db"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	UserID          string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockCoach serializes slot claims for one coach until tx ends. Callers
// re-check availability after taking it, so two requests for the same time
// cannot both pass the check.
func (r *BookingRepository) LockCoach(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "coach:"+userID)
	return err
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID, key, bookingID string, statusCode int, response []byte) error {
	var id *string
	if bookingID != "" {
		id = &bookingID
	}
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key, id, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, user_id, lead_id, event_id, scheduled_at, duration_minutes, status, name, email, note)
		VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, b.ID, b.UserID, b.LeadID, b.EventID, b.ScheduledAt, b.DurationMinutes, string(b.Status),
		b.Name, b.Email, b.Note).Scan(&b.CreatedAt)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

const bookingColumns = `id::text, user_id, COALESCE(lead_id::text, ''), COALESCE(event_id::text, ''),
	scheduled_at, duration_minutes, status, name, email, note, created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.LeadID,
		&b.EventID,
		&b.ScheduledAt,
		&b.DurationMinutes,
		&status,
		&b.Name,
		&b.Email,
		&b.Note,
		&b.CreatedAt,
	)
	b.Status = model.BookingStatus(status)
	return b, err
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID, bookingID string) (model.Booking, error) {
	if uuid.Validate(bookingID) != nil {
		return model.Booking{}, pgx.ErrNoRows
	}
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, bookingID, userID))
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, userID, bookingID string, status model.BookingStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, bookingID, userID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BookingRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

// BookingCommitments lists non-cancelled bookings overlapping [from, to).
func (r *BookingRepository) BookingCommitments(ctx context.Context, userID string, from, to time.Time) ([]availability.Commitment, error) {
	q, release := querier(ctx, r.pool)
	defer release()
	rows, err := q.Query(ctx, `
		SELECT id::text, scheduled_at, duration_minutes, status
		FROM bookings
		WHERE user_id = $1
			AND status <> 'cancelled'
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => COALESCE(duration_minutes, $4::int)) > $2
		ORDER BY scheduled_at ASC
	`, userID, from, to, model.DefaultDurationMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Commitment
	for rows.Next() {
		var c availability.Commitment
		var status string
		if err := rows.Scan(&c.ID, &c.ScheduledAt, &c.DurationMinutes, &status); err != nil {
			return nil, err
		}
		c.Status = model.BookingStatus(status)
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT user_id,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, userID, key).Scan(
		&rec.UserID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
