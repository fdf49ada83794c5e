package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/libs/db"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
)

// WindowRepository stores weekly and per-event availability windows. Times
// are TIME columns exchanged as minutes after midnight.
type WindowRepository struct {
	pool *db.Pool
}

func NewWindowRepository(pool *db.Pool) *WindowRepository {
	return &WindowRepository{pool: pool}
}

func (r *WindowRepository) ListWindows(ctx context.Context, userID string) ([]model.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id, day_of_week,
			(EXTRACT(EPOCH FROM start_time) / 60)::int,
			(EXTRACT(EPOCH FROM end_time) / 60)::int,
			slot_duration_minutes
		FROM availability_windows
		WHERE user_id = $1
		ORDER BY day_of_week, start_time
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.UserID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.SlotDurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *WindowRepository) WeeklyWindows(ctx context.Context, userID string) ([]availability.Window, error) {
	stored, err := r.ListWindows(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]availability.Window, 0, len(stored))
	for _, w := range stored {
		out = append(out, availability.Window{
			DayOfWeek:           w.DayOfWeek,
			StartMinute:         w.StartMinute,
			EndMinute:           w.EndMinute,
			SlotDurationMinutes: w.SlotDurationMinutes,
		})
	}
	return out, nil
}

// ReplaceWindows deletes every weekly window of the coach and inserts the
// given set in one transaction.
func (r *WindowRepository) ReplaceWindows(ctx context.Context, userID string, windows []model.AvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (id, user_id, day_of_week, start_time, end_time, slot_duration_minutes)
			VALUES ($1, $2, $3, $4::time, $5::time, $6)
		`, uuid.NewString(), userID, w.DayOfWeek, availability.FormatClock(w.StartMinute), availability.FormatClock(w.EndMinute), w.SlotDurationMinutes)
		if err != nil {
			return fmt.Errorf("insert window: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *WindowRepository) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	if uuid.Validate(eventID) != nil {
		return model.Event{}, pgx.ErrNoRows
	}
	var e model.Event
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id, title, slug, duration_minutes, is_active
		FROM events
		WHERE id = $1
	`, eventID).Scan(&e.ID, &e.UserID, &e.Title, &e.Slug, &e.DurationMinutes, &e.IsActive)
	return e, err
}

func (r *WindowRepository) ListEventWindows(ctx context.Context, eventID string) ([]model.EventAvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, event_id::text, day_of_week,
			(EXTRACT(EPOCH FROM start_time) / 60)::int,
			(EXTRACT(EPOCH FROM end_time) / 60)::int
		FROM event_availability_windows
		WHERE event_id = $1
		ORDER BY day_of_week, start_time
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventAvailabilityWindow
	for rows.Next() {
		var w model.EventAvailabilityWindow
		if err := rows.Scan(&w.ID, &w.EventID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// EventAvailability loads an active event's windows and duration.
func (r *WindowRepository) EventAvailability(ctx context.Context, eventID string) (availability.EventConfig, error) {
	evt, err := r.GetEvent(ctx, eventID)
	if err != nil {
		if IsNotFound(err) {
			return availability.EventConfig{}, availability.ErrEventNotFound
		}
		return availability.EventConfig{}, err
	}
	if !evt.IsActive {
		return availability.EventConfig{}, availability.ErrEventNotFound
	}
	stored, err := r.ListEventWindows(ctx, eventID)
	if err != nil {
		return availability.EventConfig{}, err
	}
	cfg := availability.EventConfig{UserID: evt.UserID, DurationMinutes: evt.DurationMinutes}
	for _, w := range stored {
		cfg.Windows = append(cfg.Windows, availability.Window{
			DayOfWeek:   w.DayOfWeek,
			StartMinute: w.StartMinute,
			EndMinute:   w.EndMinute,
		})
	}
	return cfg, nil
}

// ErrNotOwner is returned when a coach edits another coach's event.
var ErrNotOwner = errors.New("event belongs to another user")

func (r *WindowRepository) ReplaceEventWindows(ctx context.Context, userID, eventID string, windows []model.EventAvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&owner); err != nil {
		return err
	}
	if owner != userID {
		return ErrNotOwner
	}

	if _, err := tx.Exec(ctx, `DELETE FROM event_availability_windows WHERE event_id = $1`, eventID); err != nil {
		return err
	}
	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO event_availability_windows (id, event_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3, $4::time, $5::time)
		`, uuid.NewString(), eventID, w.DayOfWeek, availability.FormatClock(w.StartMinute), availability.FormatClock(w.EndMinute))
		if err != nil {
			return fmt.Errorf("insert event window: %w", err)
		}
	}
	return tx.Commit(ctx)
}
