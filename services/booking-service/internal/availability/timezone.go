package availability

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format accepted by the public queries.
const DateLayout = "2006-01-02"

// Day is one civil date in the business timezone.
type Day struct {
	Year  int
	Month time.Month
	Date  int
	// Weekday is 0=Sunday..6=Saturday as observed in the business timezone.
	Weekday int
	// Offset is the zone's UTC offset on this date, taken at local noon so a
	// DST switch in the small hours does not leak into the previous day.
	Offset time.Duration
}

// ResolveDay maps a YYYY-MM-DD date to its weekday and UTC offset in loc.
func ResolveDay(date string, loc *time.Location) (Day, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return dayOf(t.Year(), t.Month(), t.Day(), loc), nil
}

func dayOf(year int, month time.Month, date int, loc *time.Location) Day {
	noon := time.Date(year, month, date, 12, 0, 0, 0, loc)
	_, offset := noon.Zone()
	return Day{
		Year:    noon.Year(),
		Month:   noon.Month(),
		Date:    noon.Day(),
		Weekday: int(noon.Weekday()),
		Offset:  time.Duration(offset) * time.Second,
	}
}

// At converts a local wall-clock time, in minutes after midnight, to an
// absolute instant using the day's offset.
func (d Day) At(minute int) time.Time {
	midnight := time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(minute)*time.Minute - d.Offset)
}

// Start is local midnight.
func (d Day) Start() time.Time { return d.At(0) }

// Next returns the following civil date.
func (d Day) Next(loc *time.Location) Day {
	return dayOf(d.Year, d.Month, d.Date+1, loc)
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Date)
}

// DayRange returns every date from..to inclusive. An inverted range is empty.
func DayRange(from, to string, loc *time.Location) ([]Day, error) {
	first, err := ResolveDay(from, loc)
	if err != nil {
		return nil, err
	}
	last, err := ResolveDay(to, loc)
	if err != nil {
		return nil, err
	}
	var days []Day
	for d := first; !after(d, last); d = d.Next(loc) {
		days = append(days, d)
	}
	return days, nil
}

func after(a, b Day) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	if a.Month != b.Month {
		return a.Month > b.Month
	}
	return a.Date > b.Date
}
