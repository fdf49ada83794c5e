package model

import "time"

// DefaultDurationMinutes applies to bookings and sessions stored without a
// duration.
const DefaultDurationMinutes = 30

// EffectiveDuration resolves a nullable stored duration.
func EffectiveDuration(minutes *int) time.Duration {
	if minutes == nil || *minutes <= 0 {
		return DefaultDurationMinutes * time.Minute
	}
	return time.Duration(*minutes) * time.Minute
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// Blocks reports whether a booking in this status holds its time slot.
func (s BookingStatus) Blocks() bool {
	return s != BookingCancelled
}

type Booking struct {
	ID              string
	UserID          string
	LeadID          string
	EventID         string
	ScheduledAt     time.Time
	DurationMinutes *int
	Status          BookingStatus
	Name            string
	Email           string
	Note            string
	CreatedAt       time.Time
}

func (b Booking) End() time.Time {
	return b.ScheduledAt.Add(EffectiveDuration(b.DurationMinutes))
}

// Session is a meeting the coach scheduled with a client. Sessions without a
// date are drafts and never block.
type Session struct {
	ID              string
	ClientID        string
	UserID          string
	Title           string
	ScheduledAt     *time.Time
	DurationMinutes *int
	CreatedAt       time.Time
}

type Client struct {
	ID     string
	UserID string
	Name   string
	Email  string
}

type Lead struct {
	ID     string
	UserID string
	Name   string
	Email  string
	Source string
}
