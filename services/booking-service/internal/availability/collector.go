package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reluam/pokrok.app-sub006/libs/metrics"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoCalendar means the coach has no external calendar connected.
	ErrNoCalendar    = errors.New("no calendar connection")
	ErrEventNotFound = errors.New("event not found")
)

// Commitment is a stored booking or session that may hold time.
type Commitment struct {
	ID              string
	ScheduledAt     time.Time
	DurationMinutes *int
	// Status is set for bookings only.
	Status model.BookingStatus
}

func (c Commitment) Interval() Interval {
	return Interval{Start: c.ScheduledAt, End: c.ScheduledAt.Add(model.EffectiveDuration(c.DurationMinutes))}
}

// BookingSource lists a coach's bookings overlapping [from, to).
type BookingSource interface {
	BookingCommitments(ctx context.Context, userID string, from, to time.Time) ([]Commitment, error)
}

// SessionSource lists a coach's dated sessions overlapping [from, to).
type SessionSource interface {
	SessionCommitments(ctx context.Context, userID string, from, to time.Time) ([]Commitment, error)
}

// BusySource reports external calendar events. It returns ErrNoCalendar when
// the coach has nothing connected and may return partial results alongside
// an error.
type BusySource interface {
	Busy(ctx context.Context, userID string, from, to time.Time) ([]Interval, error)
}

type collector struct {
	bookings BookingSource
	sessions SessionSource
	busy     BusySource
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type collectRange struct {
	from, to time.Time
	// externalFrom and externalTo bound the calendar lookup.
	externalFrom, externalTo time.Time
	excludeSessionID         string
}

// collect fetches bookings, sessions and external events concurrently and
// flattens them into blocked intervals. Store errors fail the call; calendar
// errors only cost that source's intervals.
func (c *collector) collect(ctx context.Context, userID string, rng collectRange) ([]Interval, error) {
	var bookings, sessions []Commitment
	var external []Interval

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bookings, err = c.bookings.BookingCommitments(gctx, userID, rng.from, rng.to)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, err = c.sessions.SessionCommitments(gctx, userID, rng.from, rng.to)
		if err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
		return nil
	})
	if c.busy != nil {
		g.Go(func() error {
			external = c.externalBusy(gctx, userID, rng.externalFrom, rng.externalTo)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocked := make([]Interval, 0, len(bookings)+len(sessions)+len(external))
	nBookings := 0
	for _, b := range bookings {
		if !b.Status.Blocks() {
			continue
		}
		blocked = append(blocked, b.Interval())
		nBookings++
	}
	nSessions := 0
	for _, s := range sessions {
		if rng.excludeSessionID != "" && s.ID == rng.excludeSessionID {
			continue
		}
		blocked = append(blocked, s.Interval())
		nSessions++
	}
	blocked = append(blocked, external...)

	c.metrics.BlockedIntervals("bookings", nBookings)
	c.metrics.BlockedIntervals("sessions", nSessions)
	c.metrics.BlockedIntervals("external", len(external))
	return blocked, nil
}

func (c *collector) externalBusy(ctx context.Context, userID string, from, to time.Time) []Interval {
	busy, err := c.busy.Busy(ctx, userID, from, to)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoCalendar):
		return nil
	default:
		c.metrics.CalendarFailure()
		c.logger.Warn("external calendar lookup failed", "user_id", userID, "kept", len(busy), "err", err)
	}
	return busy
}
