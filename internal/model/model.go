package model

import (
	"time"
)

// DateLayout is the canonical YYYY-MM-DD form used for all-day dates,
// holiday keys and month-grid cells.
const DateLayout = "2006-01-02"

// CalendarSource is a calendar the agenda can query. Only selected sources
// are fetched; ICS subscriptions are always selected.
type CalendarSource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Selected bool   `json:"selected"`
}

// EventTime is either a concrete instant (DateTime) or a whole day (Date,
// YYYY-MM-DD). Exactly one is set.
type EventTime struct {
	DateTime *time.Time `json:"dateTime,omitempty"`
	Date     string     `json:"date,omitempty"`
}

// AllDay reports whether t names a whole day rather than an instant.
func (t EventTime) AllDay() bool {
	return t.DateTime == nil && t.Date != ""
}

// Instant returns the effective instant: the date-time if present, else the
// all-day date at local midnight in loc. ok is false when neither is usable.
func (t EventTime) Instant(loc *time.Location) (time.Time, bool) {
	if t.DateTime != nil {
		return *t.DateTime, true
	}
	if t.Date == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, t.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// At builds a timed EventTime.
func At(t time.Time) EventTime {
	return EventTime{DateTime: &t}
}

// OnDate builds an all-day EventTime from a YYYY-MM-DD string.
func OnDate(date string) EventTime {
	return EventTime{Date: date}
}

// Bucket is the agenda day an event was classified into.
type Bucket string

const (
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
	BucketOther    Bucket = "other"
)

// Status places an event relative to the current instant.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusCurrent  Status = "current"
	StatusPast     Status = "past"
	// StatusAllDay is used for all-day events, which are never past/current.
	StatusAllDay Status = "all-day"
)

// Event is a single calendar occurrence as shown in the agenda.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"summary"`
	Start       EventTime  `json:"start"`
	End         *EventTime `json:"end,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`

	// Stamped at merge time from the originating calendar.
	SourceColor string `json:"calendarColor,omitempty"`
	SourceName  string `json:"calendarName,omitempty"`

	// Derived by the agenda builder; not persisted meaningfully.
	Bucket Bucket `json:"bucket,omitempty"`
	Status Status `json:"status,omitempty"`
}

// Shortcut is one tile of the shortcut grid.
type Shortcut struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// HolidayMap maps YYYY-MM-DD to a holiday display name.
type HolidayMap map[string]string

// Name returns the holiday name for t's calendar date, or "".
func (h HolidayMap) Name(t time.Time) string {
	if h == nil {
		return ""
	}
	return h[t.Format(DateLayout)]
}

// ThemeMode is the persisted color scheme preference.
type ThemeMode string

const (
	ThemeAuto  ThemeMode = "auto"
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

// Valid reports whether m is one of the known modes.
func (m ThemeMode) Valid() bool {
	switch m {
	case ThemeAuto, ThemeLight, ThemeDark:
		return true
	}
	return false
}

// Weather is the cached weather snapshot. Lat and Lon record the position
// it was fetched for.
type Weather struct {
	Temp         int     `json:"temp"`
	Code         int     `json:"code"`
	LocationName string  `json:"locationName"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}
