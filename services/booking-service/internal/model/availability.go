package model

import (
	"time"

	"golang.org/x/oauth2"
)

// AvailabilityWindow is a weekly recurring open range. Times are minutes after
// local midnight in the business timezone.
type AvailabilityWindow struct {
	ID                  string
	UserID              string
	DayOfWeek           int
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
}

type Event struct {
	ID              string
	UserID          string
	Title           string
	Slug            string
	DurationMinutes int
	IsActive        bool
}

type EventAvailabilityWindow struct {
	ID          string
	EventID     string
	DayOfWeek   int
	StartMinute int
	EndMinute   int
}

// CalendarConnection holds a coach's stored Google credentials. An empty
// CalendarIDs means the primary calendar only.
type CalendarConnection struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CalendarIDs  []string
}

func (c CalendarConnection) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.TokenExpiry,
	}
}
