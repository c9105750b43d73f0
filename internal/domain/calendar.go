package domain

import "time"

// CalendarItem is a dated entry in a user's calendar.
type CalendarItem struct {
	ID        string
	UserID    string
	Title     string
	Date      string // YYYY-MM-DD
	Time      string // HH:MM, empty for all-day items
	CreatedAt time.Time
}

// CalendarItemInput is the payload accepted by AddCalendarItem.
type CalendarItemInput struct {
	Title string
	Date  string
	Time  string
}
