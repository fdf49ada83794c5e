package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a weekly recurring open range in local wall-clock minutes.
type Window struct {
	DayOfWeek           int
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
}

// Valid reports whether the window is a non-empty range within one weekday
// with a positive slot duration.
func (w Window) Valid() bool {
	return w.DayOfWeek >= 0 && w.DayOfWeek <= 6 &&
		w.StartMinute >= 0 && w.EndMinute <= 24*60 &&
		w.StartMinute < w.EndMinute &&
		w.SlotDurationMinutes > 0
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into minutes after midnight.
// "24:00" is accepted as the end of the day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// Candidate is a potential slot before blocked intervals are applied.
type Candidate struct {
	Start    time.Time
	Duration time.Duration
}

func (c Candidate) Interval() Interval {
	return Interval{Start: c.Start, End: c.Start.Add(c.Duration)}
}

// Expand generates the candidates of every window matching the day's weekday.
// A positive durationOverride replaces each window's own slot duration. Steps
// whose end would pass the window end are dropped.
func Expand(day Day, windows []Window, durationOverride int) []Candidate {
	var out []Candidate
	for _, w := range windows {
		if durationOverride > 0 {
			w.SlotDurationMinutes = durationOverride
		}
		if w.DayOfWeek != day.Weekday || !w.Valid() {
			continue
		}
		step := w.SlotDurationMinutes
		for m := w.StartMinute; m+step <= w.EndMinute; m += step {
			out = append(out, Candidate{
				Start:    day.At(m),
				Duration: time.Duration(step) * time.Minute,
			})
		}
	}
	return out
}
