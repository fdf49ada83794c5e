package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// ConnectionStore reads and updates a coach's stored Google credentials.
type ConnectionStore interface {
	// CalendarConnection returns ok=false when the coach never connected.
	CalendarConnection(ctx context.Context, userID string) (model.CalendarConnection, bool, error)
	SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error
}

// EventLister lists the events of one calendar overlapping [from, to).
type EventLister interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*gcal.Event, error)
}

type ListerFactory func(ctx context.Context, ts oauth2.TokenSource) (EventLister, error)

type Config struct {
	ClientID     string
	ClientSecret string
	// Location interprets all-day events.
	Location *time.Location
	// Parallel caps concurrent calendar requests per lookup.
	Parallel int
}

// Source turns a coach's Google calendars into blocked intervals.
type Source struct {
	conns     ConnectionStore
	oauth     *oauth2.Config
	newLister ListerFactory
	loc       *time.Location
	parallel  int
	logger    *slog.Logger
}

func NewSource(conns ConnectionStore, cfg Config, logger *slog.Logger) *Source {
	return newSource(conns, cfg, NewGoogleLister, logger)
}

func newSource(conns ConnectionStore, cfg Config, factory ListerFactory, logger *slog.Logger) *Source {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	return &Source{
		conns: conns,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarReadonlyScope},
		},
		newLister: factory,
		loc:       loc,
		parallel:  parallel,
		logger:    logger,
	}
}

// Busy returns the events of every connected calendar. A failing calendar
// does not hide the others: their intervals come back together with the
// joined error.
func (s *Source) Busy(ctx context.Context, userID string, from, to time.Time) ([]availability.Interval, error) {
	conn, ok, err := s.conns.CalendarConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load calendar connection: %w", err)
	}
	if !ok || (conn.AccessToken == "" && conn.RefreshToken == "") {
		return nil, availability.ErrNoCalendar
	}

	tok, err := s.oauth.TokenSource(ctx, conn.Token()).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh google token: %w", err)
	}
	if tok.AccessToken != conn.AccessToken {
		if err := s.conns.SaveToken(ctx, userID, tok); err != nil {
			s.logger.Warn("persist refreshed google token failed", "user_id", userID, "err", err)
		}
	}

	lister, err := s.newLister(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("init calendar client: %w", err)
	}

	ids := conn.CalendarIDs
	if len(ids) == 0 {
		ids = []string{primaryCalendar}
	}

	var (
		mu       sync.Mutex
		busy     []availability.Interval
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range ids {
		g.Go(func() error {
			events, err := lister.ListEvents(gctx, id, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("calendar %s: %w", id, err))
				return nil
			}
			for _, e := range events {
				if iv, ok := s.interval(e); ok {
					busy = append(busy, iv)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return dedupe(busy), errors.Join(failures...)
}

// interval converts a Google event. All-day events carry dates only and
// cover whole local days; their end date is exclusive.
func (s *Source) interval(e *gcal.Event) (availability.Interval, bool) {
	if e == nil || e.Start == nil || e.End == nil || e.Status == "cancelled" {
		return availability.Interval{}, false
	}
	start, ok := s.eventTime(e.Start)
	if !ok {
		return availability.Interval{}, false
	}
	end, ok := s.eventTime(e.End)
	if !ok || !end.After(start) {
		return availability.Interval{}, false
	}
	return availability.Interval{Start: start, End: end}, true
}

func (s *Source) eventTime(t *gcal.EventDateTime) (time.Time, bool) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	}
	if t.Date != "" {
		v, err := time.ParseInLocation(availability.DateLayout, t.Date, s.loc)
		if err != nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	}
	return time.Time{}, false
}

// dedupe drops intervals reported identically by several calendars, such as
// an invitation present in both the primary and a shared calendar.
func dedupe(in []availability.Interval) []availability.Interval {
	slices.SortFunc(in, func(a, b availability.Interval) int {
		if n := a.Start.Compare(b.Start); n != 0 {
			return n
		}
		return a.End.Compare(b.End)
	})
	return slices.CompactFunc(in, func(a, b availability.Interval) bool {
		return a.Start.Equal(b.Start) && a.End.Equal(b.End)
	})
}

type googleLister struct {
	svc *gcal.Service
}

func NewGoogleLister(ctx context.Context, ts oauth2.TokenSource) (EventLister, error) {
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}
	return &googleLister{svc: svc}, nil
}

func (l *googleLister) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*gcal.Event, error) {
	var out []*gcal.Event
	call := l.svc.Events.List(calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(250).
		Fields("nextPageToken", "items(id,status,start,end)")
	err := call.Pages(ctx, func(page *gcal.Events) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}
