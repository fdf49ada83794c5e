package handlers

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/storage"
)

// CoachLocker serializes slot claims for one coach until tx ends.
type CoachLocker interface {
	LockCoach(ctx context.Context, tx pgx.Tx, userID string) error
}

// BookingStore is the booking persistence behind the booking and session
// endpoints. *storage.BookingRepository implements it.
type BookingStore interface {
	CoachLocker
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID, key, bookingID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID, bookingID string) (model.Booking, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, userID, bookingID string, status model.BookingStatus) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Booking, error)
}

type SessionStore interface {
	Create(ctx context.Context, tx pgx.Tx, s *model.Session) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID, sessionID string) (model.Session, error)
	Reschedule(ctx context.Context, tx pgx.Tx, sessionID string, scheduledAt time.Time, durationMinutes *int) error
}
