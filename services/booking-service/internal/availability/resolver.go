package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reluam/pokrok.app-sub006/libs/metrics"
	otelx "github.com/reluam/pokrok.app-sub006/libs/otel"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultExternalPad widens the calendar lookup of IsSlotFree on both sides.
const DefaultExternalPad = 24 * time.Hour

// EventConfig is a bookable event type with its own windows. Its windows
// carry no duration; DurationMinutes applies to all of them.
type EventConfig struct {
	UserID          string
	DurationMinutes int
	Windows         []Window
}

// WindowSource loads the weekly and per-event availability windows.
type WindowSource interface {
	WeeklyWindows(ctx context.Context, userID string) ([]Window, error)
	// EventAvailability returns ErrEventNotFound for unknown or inactive events.
	EventAvailability(ctx context.Context, eventID string) (EventConfig, error)
}

type Config struct {
	Location *time.Location
	Windows  WindowSource
	Bookings BookingSource
	Sessions SessionSource
	// Busy is optional; without it only internal commitments block.
	Busy        BusySource
	ExternalPad time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Resolver answers slot listing and point-in-time freedom queries. It holds
// no state between calls; every query reads current commitments.
type Resolver struct {
	loc         *time.Location
	windows     WindowSource
	collector   collector
	externalPad time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

func New(cfg Config) *Resolver {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pad := cfg.ExternalPad
	if pad < 0 {
		pad = 0
	} else if pad == 0 {
		pad = DefaultExternalPad
	}
	return &Resolver{
		loc:     loc,
		windows: cfg.Windows,
		collector: collector{
			bookings: cfg.Bookings,
			sessions: cfg.Sessions,
			busy:     cfg.Busy,
			logger:   logger,
			metrics:  cfg.Metrics,
		},
		externalPad: pad,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      otelx.Tracer("booking-service/availability"),
	}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// GetAvailableSlots lists the coach's open slots for the dates fromDate..toDate
// (YYYY-MM-DD, inclusive) in the business timezone.
func (r *Resolver) GetAvailableSlots(ctx context.Context, fromDate, toDate, userID string) (slots []Slot, err error) {
	ctx, done := r.observe(ctx, "GetAvailableSlots", "weekly", attribute.String("user_id", userID))
	defer func() { done(len(slots), err) }()

	windows, err := r.windows.WeeklyWindows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	return r.resolve(ctx, userID, windows, 0, fromDate, toDate)
}

// GetAvailableSlotsForEvent lists open slots for an event type using the
// event's own windows and duration and the owner's commitments.
func (r *Resolver) GetAvailableSlotsForEvent(ctx context.Context, eventID, fromDate, toDate string) (slots []Slot, err error) {
	ctx, done := r.observe(ctx, "GetAvailableSlotsForEvent", "event", attribute.String("event_id", eventID))
	defer func() { done(len(slots), err) }()

	evt, err := r.windows.EventAvailability(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	duration := evt.DurationMinutes
	if duration <= 0 {
		duration = model.DefaultDurationMinutes
	}
	return r.resolve(ctx, evt.UserID, evt.Windows, duration, fromDate, toDate)
}

func (r *Resolver) resolve(ctx context.Context, userID string, windows []Window, durationOverride int, fromDate, toDate string) ([]Slot, error) {
	days, err := DayRange(fromDate, toDate, r.loc)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 || len(days) == 0 {
		return []Slot{}, nil
	}

	var candidates []Candidate
	for _, day := range days {
		candidates = append(candidates, Expand(day, windows, durationOverride)...)
	}
	if len(candidates) == 0 {
		return []Slot{}, nil
	}

	from := days[0].Start()
	end := days[len(days)-1].Next(r.loc).Start()
	blocked, err := r.collector.collect(ctx, userID, collectRange{
		from:         from,
		to:           end,
		externalFrom: from,
		externalTo:   end,
	})
	if err != nil {
		return nil, err
	}
	return Filter(candidates, blocked, from, end.Add(-time.Millisecond)), nil
}

// IsSlotFree reports whether [scheduledAt, scheduledAt+duration) is clear of
// every booking, session and external event. excludeSessionID lets a session
// be moved without colliding with its own current time.
func (r *Resolver) IsSlotFree(ctx context.Context, scheduledAt time.Time, durationMinutes int, userID, excludeSessionID string) (free bool, err error) {
	ctx, done := r.observe(ctx, "IsSlotFree", "point",
		attribute.String("user_id", userID),
		attribute.String("slot_at", scheduledAt.UTC().Format(SlotLayout)),
	)
	defer func() {
		n := 0
		if free {
			n = 1
		}
		done(n, err)
	}()

	if durationMinutes <= 0 {
		durationMinutes = model.DefaultDurationMinutes
	}
	slot := Interval{Start: scheduledAt, End: scheduledAt.Add(time.Duration(durationMinutes) * time.Minute)}

	blocked, err := r.collector.collect(ctx, userID, collectRange{
		from:             slot.Start,
		to:               slot.End,
		externalFrom:     slot.Start.Add(-r.externalPad),
		externalTo:       slot.End.Add(r.externalPad),
		excludeSessionID: excludeSessionID,
	})
	if err != nil {
		return false, err
	}
	return !overlapsAny(slot, blocked), nil
}

func (r *Resolver) observe(ctx context.Context, op, kind string, attrs ...attribute.KeyValue) (context.Context, func(int, error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "availability."+op, trace.WithAttributes(attrs...))
	return ctx, func(n int, err error) {
		elapsed := time.Since(start)
		r.metrics.SlotQuery(kind, elapsed, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !errors.Is(err, ErrEventNotFound) {
				r.logger.Error("availability query failed", "op", op, "err", err)
			}
		} else if kind != "point" {
			r.metrics.SlotsReturned(kind, n)
		}
		span.SetAttributes(attribute.Int("result", n))
		span.End()
	}
}
