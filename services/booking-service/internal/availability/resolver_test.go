package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
)

type ownedCommitment struct {
	userID string
	Commitment
}

type fakeStore struct {
	mu       sync.Mutex
	weekly   map[string][]Window
	events   map[string]EventConfig
	bookings []ownedCommitment
	sessions []ownedCommitment
	err      error
	queries  int
}

func (s *fakeStore) WeeklyWindows(_ context.Context, userID string) ([]Window, error) {
	return s.weekly[userID], nil
}

func (s *fakeStore) EventAvailability(_ context.Context, eventID string) (EventConfig, error) {
	evt, ok := s.events[eventID]
	if !ok {
		return EventConfig{}, ErrEventNotFound
	}
	return evt, nil
}

func (s *fakeStore) BookingCommitments(_ context.Context, userID string, from, to time.Time) ([]Commitment, error) {
	return s.list(s.bookings, userID, from, to)
}

func (s *fakeStore) SessionCommitments(_ context.Context, userID string, from, to time.Time) ([]Commitment, error) {
	return s.list(s.sessions, userID, from, to)
}

func (s *fakeStore) list(all []ownedCommitment, userID string, from, to time.Time) ([]Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	rng := Interval{Start: from, End: to}
	var out []Commitment
	for _, c := range all {
		if c.userID == userID && c.Interval().Overlaps(rng) {
			out = append(out, c.Commitment)
		}
	}
	return out, nil
}

type fakeBusy struct {
	mu       sync.Mutex
	events   []Interval
	err      error
	from, to time.Time
}

func (b *fakeBusy) Busy(_ context.Context, _ string, from, to time.Time) ([]Interval, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.from, b.to = from, to
	var out []Interval
	for _, e := range b.events {
		if e.Overlaps(Interval{Start: from, End: to}) {
			out = append(out, e)
		}
	}
	return out, b.err
}

const coach = "user_coach"

func mondayNineToTen() Window {
	return Window{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 10 * 60, SlotDurationMinutes: 30}
}

func newTestResolver(t *testing.T, store *fakeStore, busy BusySource) *Resolver {
	t.Helper()
	return New(Config{
		Location: prague(t),
		Windows:  store,
		Bookings: store,
		Sessions: store,
		Busy:     busy,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func minutes(n int) *int { return &n }

func slotTimes(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.SlotAt)
	}
	return out
}

func TestGetAvailableSlotsSingleMonday(t *testing.T) {
	store := &fakeStore{weekly: map[string][]Window{coach: {mondayNineToTen()}}}
	r := newTestResolver(t, store, nil)

	slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-09", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	want := []string{"2024-06-03T07:00:00.000Z", "2024-06-03T07:30:00.000Z"}
	if got := slotTimes(slots); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, s := range slots {
		if s.DurationMinutes != 30 {
			t.Fatalf("expected 30 minute slots, got %d", s.DurationMinutes)
		}
	}
}

func TestGetAvailableSlotsSessionBlocksOverlap(t *testing.T) {
	cases := []struct {
		name  string
		start string
		want  []string
	}{
		// 09:15-09:45 local cuts into both 09:00-09:30 and 09:30-10:00.
		{name: "straddles both slots", start: "2024-06-03T07:15:00Z", want: []string{}},
		// 09:30-10:00 only touches the end of 09:00-09:30.
		{name: "touches first slot", start: "2024-06-03T07:30:00Z", want: []string{"2024-06-03T07:00:00.000Z"}},
	}
	for _, tc := range cases {
		store := &fakeStore{
			weekly: map[string][]Window{coach: {mondayNineToTen()}},
			sessions: []ownedCommitment{{coach, Commitment{
				ID:              "s1",
				ScheduledAt:     utc(tc.start),
				DurationMinutes: minutes(30),
			}}},
		}
		r := newTestResolver(t, store, nil)

		slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-09", coach)
		if err != nil {
			t.Fatalf("%s: GetAvailableSlots: %v", tc.name, err)
		}
		if got := slotTimes(slots); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestGetAvailableSlotsBookingRules(t *testing.T) {
	cases := []struct {
		name    string
		booking Commitment
		want    []string
	}{
		{
			name:    "cancelled never blocks",
			booking: Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T07:00:00Z"), DurationMinutes: minutes(60), Status: model.BookingCancelled},
			want:    []string{"2024-06-03T07:00:00.000Z", "2024-06-03T07:30:00.000Z"},
		},
		{
			name:    "pending blocks",
			booking: Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T07:00:00Z"), DurationMinutes: minutes(60), Status: model.BookingPending},
			want:    []string{},
		},
		{
			name:    "touching end does not block",
			booking: Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T06:30:00Z"), DurationMinutes: minutes(30), Status: model.BookingConfirmed},
			want:    []string{"2024-06-03T07:00:00.000Z", "2024-06-03T07:30:00.000Z"},
		},
		{
			name:    "missing duration defaults to 30 minutes",
			booking: Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T07:00:00Z"), Status: model.BookingConfirmed},
			want:    []string{"2024-06-03T07:30:00.000Z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{
				weekly:   map[string][]Window{coach: {mondayNineToTen()}},
				bookings: []ownedCommitment{{coach, tc.booking}},
			}
			r := newTestResolver(t, store, nil)
			slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-03", coach)
			if err != nil {
				t.Fatalf("GetAvailableSlots: %v", err)
			}
			if got := slotTimes(slots); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestGetAvailableSlotsIgnoresOtherCoaches(t *testing.T) {
	store := &fakeStore{
		weekly: map[string][]Window{coach: {mondayNineToTen()}},
		bookings: []ownedCommitment{{"someone_else", Commitment{
			ID: "b1", ScheduledAt: utc("2024-06-03T07:00:00Z"), DurationMinutes: minutes(60), Status: model.BookingConfirmed,
		}}},
	}
	r := newTestResolver(t, store, nil)
	slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-03", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %v", slotTimes(slots))
	}
}

func TestGetAvailableSlotsWithoutWindows(t *testing.T) {
	store := &fakeStore{}
	r := newTestResolver(t, store, nil)

	slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-09", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", slots)
	}
	if store.queries != 0 {
		t.Fatalf("expected no commitment queries, got %d", store.queries)
	}
}

func TestGetAvailableSlotsInvalidDate(t *testing.T) {
	store := &fakeStore{weekly: map[string][]Window{coach: {mondayNineToTen()}}}
	r := newTestResolver(t, store, nil)
	if _, err := r.GetAvailableSlots(context.Background(), "06/03/2024", "2024-06-09", coach); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestGetAvailableSlotsAcrossDST(t *testing.T) {
	store := &fakeStore{weekly: map[string][]Window{coach: {
		{DayOfWeek: 0, StartMinute: 9 * 60, EndMinute: 9*60 + 30, SlotDurationMinutes: 30},
	}}}
	r := newTestResolver(t, store, nil)

	slots, err := r.GetAvailableSlots(context.Background(), "2024-03-24", "2024-03-31", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	want := []string{"2024-03-24T08:00:00.000Z", "2024-03-31T07:00:00.000Z"}
	if got := slotTimes(slots); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGetAvailableSlotsIsIdempotent(t *testing.T) {
	store := &fakeStore{
		weekly: map[string][]Window{coach: {
			mondayNineToTen(),
			{DayOfWeek: 3, StartMinute: 13 * 60, EndMinute: 17 * 60, SlotDurationMinutes: 45},
		}},
		bookings: []ownedCommitment{{coach, Commitment{ID: "b1", ScheduledAt: utc("2024-06-05T12:00:00Z"), Status: model.BookingPending}}},
	}
	r := newTestResolver(t, store, &fakeBusy{events: []Interval{{Start: utc("2024-06-05T13:30:00Z"), End: utc("2024-06-05T14:00:00Z")}}})

	first, err := r.GetAvailableSlots(context.Background(), "2024-06-01", "2024-06-14", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	second, err := r.GetAvailableSlots(context.Background(), "2024-06-01", "2024-06-14", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results:\n%v\n%v", slotTimes(first), slotTimes(second))
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].SlotAt >= first[i].SlotAt {
			t.Fatalf("slots not sorted: %v", slotTimes(first))
		}
	}
}

func TestListedSlotsPassPointCheck(t *testing.T) {
	store := &fakeStore{
		weekly: map[string][]Window{coach: {
			{DayOfWeek: 1, StartMinute: 8 * 60, EndMinute: 12 * 60, SlotDurationMinutes: 30},
			{DayOfWeek: 2, StartMinute: 8 * 60, EndMinute: 12 * 60, SlotDurationMinutes: 50},
		}},
		bookings: []ownedCommitment{
			{coach, Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T07:10:00Z"), DurationMinutes: minutes(20), Status: model.BookingConfirmed}},
			{coach, Commitment{ID: "b2", ScheduledAt: utc("2024-06-03T08:00:00Z"), Status: model.BookingCancelled}},
		},
		sessions: []ownedCommitment{
			{coach, Commitment{ID: "s1", ScheduledAt: utc("2024-06-04T07:00:00Z"), DurationMinutes: minutes(90)}},
		},
	}
	busy := &fakeBusy{events: []Interval{{Start: utc("2024-06-03T09:00:00Z"), End: utc("2024-06-03T09:45:00Z")}}}
	r := newTestResolver(t, store, busy)

	slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-04", coach)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected some slots")
	}
	for _, s := range slots {
		free, err := r.IsSlotFree(context.Background(), s.At, s.DurationMinutes, coach, "")
		if err != nil {
			t.Fatalf("IsSlotFree: %v", err)
		}
		if !free {
			t.Fatalf("listed slot %s failed the point check", s.SlotAt)
		}
	}
}

func TestIsSlotFree(t *testing.T) {
	store := &fakeStore{
		bookings: []ownedCommitment{
			{coach, Commitment{ID: "b1", ScheduledAt: utc("2024-06-03T08:00:00Z"), DurationMinutes: minutes(60), Status: model.BookingConfirmed}},
		},
		sessions: []ownedCommitment{
			{coach, Commitment{ID: "s1", ScheduledAt: utc("2024-06-03T07:15:00Z"), DurationMinutes: minutes(30)}},
		},
	}
	r := newTestResolver(t, store, nil)
	ctx := context.Background()

	free, err := r.IsSlotFree(ctx, utc("2024-06-03T07:00:00Z"), 30, coach, "")
	if err != nil || free {
		t.Fatalf("expected slot overlapping session to be taken, got %v (%v)", free, err)
	}

	free, err = r.IsSlotFree(ctx, utc("2024-06-03T07:00:00Z"), 30, coach, "s1")
	if err != nil || !free {
		t.Fatalf("expected session to be able to move over itself, got %v (%v)", free, err)
	}

	free, err = r.IsSlotFree(ctx, utc("2024-06-03T09:00:00Z"), 30, coach, "")
	if err != nil || !free {
		t.Fatalf("expected slot after booking to be free, got %v (%v)", free, err)
	}

	free, err = r.IsSlotFree(ctx, utc("2024-06-03T08:59:00Z"), 0, coach, "")
	if err != nil || free {
		t.Fatalf("expected default duration slot overlapping booking to be taken, got %v (%v)", free, err)
	}
}

func TestIsSlotFreeAfterUnrelatedBooking(t *testing.T) {
	store := &fakeStore{}
	r := newTestResolver(t, store, nil)
	ctx := context.Background()

	store.bookings = append(store.bookings, ownedCommitment{coach, Commitment{
		ID: "b1", ScheduledAt: utc("2024-06-03T10:00:00Z"), DurationMinutes: minutes(30), Status: model.BookingConfirmed,
	}})
	free, err := r.IsSlotFree(ctx, utc("2024-06-03T07:00:00Z"), 30, coach, "")
	if err != nil || !free {
		t.Fatalf("expected free slot, got %v (%v)", free, err)
	}
}

func TestIsSlotFreePadsExternalLookup(t *testing.T) {
	busy := &fakeBusy{events: []Interval{
		{Start: utc("2024-06-02T20:00:00Z"), End: utc("2024-06-02T21:00:00Z")},
	}}
	r := newTestResolver(t, &fakeStore{}, busy)

	at := utc("2024-06-03T07:00:00Z")
	free, err := r.IsSlotFree(context.Background(), at, 30, coach, "")
	if err != nil || !free {
		t.Fatalf("expected padded external event not to block, got %v (%v)", free, err)
	}
	if !busy.from.Equal(at.Add(-24*time.Hour)) || !busy.to.Equal(at.Add(30*time.Minute+24*time.Hour)) {
		t.Fatalf("unexpected external lookup range %s..%s", busy.from, busy.to)
	}

	busy.events = append(busy.events, Interval{Start: utc("2024-06-03T07:29:00Z"), End: utc("2024-06-03T08:00:00Z")})
	free, err = r.IsSlotFree(context.Background(), at, 30, coach, "")
	if err != nil || free {
		t.Fatalf("expected overlapping external event to block, got %v (%v)", free, err)
	}
}

func TestExternalCalendarFailureDegrades(t *testing.T) {
	window := []Window{mondayNineToTen()}

	cases := []struct {
		name string
		busy *fakeBusy
		want []string
	}{
		{
			name: "no connection",
			busy: &fakeBusy{err: ErrNoCalendar},
			want: []string{"2024-06-03T07:00:00.000Z", "2024-06-03T07:30:00.000Z"},
		},
		{
			name: "upstream failure",
			busy: &fakeBusy{err: errors.New("googleapi: 503")},
			want: []string{"2024-06-03T07:00:00.000Z", "2024-06-03T07:30:00.000Z"},
		},
		{
			name: "partial result is kept",
			busy: &fakeBusy{
				events: []Interval{{Start: utc("2024-06-03T07:30:00Z"), End: utc("2024-06-03T08:00:00Z")}},
				err:    errors.New("calendar work: 403"),
			},
			want: []string{"2024-06-03T07:00:00.000Z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{weekly: map[string][]Window{coach: window}}
			r := newTestResolver(t, store, tc.busy)
			slots, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-03", coach)
			if err != nil {
				t.Fatalf("GetAvailableSlots: %v", err)
			}
			if got := slotTimes(slots); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestStoreFailureIsReturned(t *testing.T) {
	store := &fakeStore{
		weekly: map[string][]Window{coach: {mondayNineToTen()}},
		err:    errors.New("connection reset"),
	}
	r := newTestResolver(t, store, nil)
	if _, err := r.GetAvailableSlots(context.Background(), "2024-06-03", "2024-06-03", coach); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := r.IsSlotFree(context.Background(), utc("2024-06-03T07:00:00Z"), 30, coach, ""); err == nil {
		t.Fatal("expected store error")
	}
}

func TestGetAvailableSlotsForEvent(t *testing.T) {
	store := &fakeStore{
		weekly: map[string][]Window{coach: {mondayNineToTen()}},
		events: map[string]EventConfig{
			"evt_intro": {
				UserID:          coach,
				DurationMinutes: 45,
				Windows:         []Window{{DayOfWeek: 1, StartMinute: 14 * 60, EndMinute: 16*60 + 30}},
			},
		},
		sessions: []ownedCommitment{
			{coach, Commitment{ID: "s1", ScheduledAt: utc("2024-06-03T13:00:00Z"), DurationMinutes: minutes(15)}},
		},
	}
	r := newTestResolver(t, store, nil)

	slots, err := r.GetAvailableSlotsForEvent(context.Background(), "evt_intro", "2024-06-03", "2024-06-09")
	if err != nil {
		t.Fatalf("GetAvailableSlotsForEvent: %v", err)
	}
	// 14:00, 14:45 and 15:30 local; 14:45 runs into the 15:00 session.
	want := []string{"2024-06-03T12:00:00.000Z", "2024-06-03T13:30:00.000Z"}
	if got := slotTimes(slots); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, s := range slots {
		if s.DurationMinutes != 45 {
			t.Fatalf("expected event duration, got %d", s.DurationMinutes)
		}
	}

	if _, err := r.GetAvailableSlotsForEvent(context.Background(), "missing", "2024-06-03", "2024-06-09"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
