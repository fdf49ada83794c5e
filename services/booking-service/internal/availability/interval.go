package availability

import (
	"slices"
	"time"
)

// SlotLayout renders instants as ISO-8601 UTC with millisecond precision.
const SlotLayout = "2006-01-02T15:04:05.000Z07:00"

// Interval is a half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func overlapsAny(c Interval, blocked []Interval) bool {
	for _, b := range blocked {
		if c.Overlaps(b) {
			return true
		}
	}
	return false
}

// Slot is an open appointment time as returned to callers. At is the same
// instant as SlotAt, kept for ordering.
type Slot struct {
	SlotAt          string    `json:"slot_at"`
	DurationMinutes int       `json:"duration_minutes"`
	At              time.Time `json:"-"`
}

// NewSlot renders at in UTC with SlotLayout.
func NewSlot(at time.Time, d time.Duration) Slot {
	at = at.UTC()
	return Slot{SlotAt: at.Format(SlotLayout), DurationMinutes: int(d / time.Minute), At: at}
}

// Filter keeps candidates that overlap no blocked interval and start within
// [from, to] inclusive. The result is ordered by start; identical candidates
// from overlapping windows are reported once.
func Filter(candidates []Candidate, blocked []Interval, from, to time.Time) []Slot {
	slots := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		if c.Start.Before(from) || c.Start.After(to) {
			continue
		}
		if overlapsAny(c.Interval(), blocked) {
			continue
		}
		slots = append(slots, NewSlot(c.Start, c.Duration))
	}
	slices.SortStableFunc(slots, func(a, b Slot) int {
		if n := a.At.Compare(b.At); n != 0 {
			return n
		}
		return a.DurationMinutes - b.DurationMinutes
	})
	return slices.CompactFunc(slots, func(a, b Slot) bool {
		return a.At.Equal(b.At) && a.DurationMinutes == b.DurationMinutes
	})
}
