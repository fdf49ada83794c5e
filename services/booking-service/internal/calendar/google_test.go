package calendar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
)

type fakeConns struct {
	conn  model.CalendarConnection
	ok    bool
	err   error
	saved *oauth2.Token
}

func (f *fakeConns) CalendarConnection(context.Context, string) (model.CalendarConnection, bool, error) {
	return f.conn, f.ok, f.err
}

func (f *fakeConns) SaveToken(_ context.Context, _ string, tok *oauth2.Token) error {
	f.saved = tok
	return nil
}

type fakeLister struct {
	events map[string][]*gcal.Event
	errs   map[string]error
}

func (f *fakeLister) ListEvents(_ context.Context, calendarID string, _, _ time.Time) ([]*gcal.Event, error) {
	if err := f.errs[calendarID]; err != nil {
		return nil, err
	}
	return f.events[calendarID], nil
}

func timed(start, end string) *gcal.Event {
	return &gcal.Event{Start: &gcal.EventDateTime{DateTime: start}, End: &gcal.EventDateTime{DateTime: end}}
}

func newTestSource(t *testing.T, conns ConnectionStore, lister EventLister) *Source {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	factory := func(context.Context, oauth2.TokenSource) (EventLister, error) { return lister, nil }
	return newSource(conns, Config{Location: loc}, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func connected(ids ...string) *fakeConns {
	return &fakeConns{ok: true, conn: model.CalendarConnection{
		UserID:      "user_1",
		AccessToken: "access",
		TokenExpiry: time.Now().Add(time.Hour),
		CalendarIDs: ids,
	}}
}

var (
	rangeFrom = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rangeTo   = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
)

func TestBusyWithoutConnection(t *testing.T) {
	src := newTestSource(t, &fakeConns{}, &fakeLister{})
	if _, err := src.Busy(context.Background(), "user_1", rangeFrom, rangeTo); !errors.Is(err, availability.ErrNoCalendar) {
		t.Fatalf("expected ErrNoCalendar, got %v", err)
	}
}

func TestBusyPrimaryCalendarAndAllDay(t *testing.T) {
	lister := &fakeLister{events: map[string][]*gcal.Event{
		"primary": {
			timed("2024-06-03T09:00:00+02:00", "2024-06-03T10:00:00+02:00"),
			{Start: &gcal.EventDateTime{Date: "2024-06-04"}, End: &gcal.EventDateTime{Date: "2024-06-05"}},
			{Status: "cancelled", Start: &gcal.EventDateTime{DateTime: "2024-06-06T09:00:00Z"}, End: &gcal.EventDateTime{DateTime: "2024-06-06T10:00:00Z"}},
			{Start: &gcal.EventDateTime{DateTime: "garbage"}, End: &gcal.EventDateTime{DateTime: "2024-06-06T10:00:00Z"}},
		},
	}}
	src := newTestSource(t, connected(), lister)

	busy, err := src.Busy(context.Background(), "user_1", rangeFrom, rangeTo)
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("expected 2 intervals, got %+v", busy)
	}
	if !busy[0].Start.Equal(time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC)) || !busy[0].End.Equal(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timed interval %+v", busy[0])
	}
	// All-day event on 4 June covers local midnight to local midnight.
	if !busy[1].Start.Equal(time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC)) || !busy[1].End.Equal(time.Date(2024, 6, 4, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected all-day interval %+v", busy[1])
	}
}

func TestBusyMergesCalendarsAndKeepsPartialResults(t *testing.T) {
	shared := timed("2024-06-03T07:00:00Z", "2024-06-03T08:00:00Z")
	lister := &fakeLister{
		events: map[string][]*gcal.Event{
			"work":   {shared, timed("2024-06-03T12:00:00Z", "2024-06-03T12:30:00Z")},
			"family": {timed("2024-06-03T07:00:00Z", "2024-06-03T08:00:00Z")},
		},
		errs: map[string]error{"gym": errors.New("googleapi: Error 404: Not Found")},
	}
	src := newTestSource(t, connected("work", "family", "gym"), lister)

	busy, err := src.Busy(context.Background(), "user_1", rangeFrom, rangeTo)
	if err == nil {
		t.Fatal("expected the failing calendar to be reported")
	}
	if len(busy) != 2 {
		t.Fatalf("expected duplicates across calendars to merge into 2 intervals, got %+v", busy)
	}
	if !busy[0].Start.Before(busy[1].Start) {
		t.Fatalf("expected intervals ordered by start, got %+v", busy)
	}
}

func TestBusyPersistsNothingForValidToken(t *testing.T) {
	conns := connected()
	src := newTestSource(t, conns, &fakeLister{})
	if _, err := src.Busy(context.Background(), "user_1", rangeFrom, rangeTo); err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if conns.saved != nil {
		t.Fatalf("expected unexpired token to be reused, saved %+v", conns.saved)
	}
}

func TestBusyConnectionLoadError(t *testing.T) {
	src := newTestSource(t, &fakeConns{err: errors.New("db down")}, &fakeLister{})
	_, err := src.Busy(context.Background(), "user_1", rangeFrom, rangeTo)
	if err == nil || errors.Is(err, availability.ErrNoCalendar) {
		t.Fatalf("expected a load error, got %v", err)
	}
}
