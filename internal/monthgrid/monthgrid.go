// Package monthgrid lays out a month as week rows for the calendar widget.
package monthgrid

import (
	"fmt"
	"strings"
	"time"

	"startpage/internal/model"
)

// Cell is one day of the grid.
type Cell struct {
	Date        string       `json:"date"`
	Day         int          `json:"day"`
	InMonth     bool         `json:"inMonth"`
	Weekday     time.Weekday `json:"weekday"`
	Highlight   bool         `json:"highlight"` // Sunday or holiday
	Saturday    bool         `json:"saturday"`
	HolidayName string       `json:"holidayName,omitempty"`
	Today       bool         `json:"today"`
}

// Grid is a month laid out in full weeks.
type Grid struct {
	Year      int          `json:"year"`
	Month     time.Month   `json:"month"`
	Title     string       `json:"title"`
	WeekStart time.Weekday `json:"weekStart"`
	Weekdays  []string     `json:"weekdays"`
	Cells     []Cell       `json:"cells"`
}

var weekdayNames = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// ParseWeekStart maps the config value to a weekday. Anything but "monday"
// starts weeks on Sunday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "monday") {
		return time.Monday
	}
	return time.Sunday
}

// Build lays out year/month. Leading cells come from the previous month and
// trailing cells from the next, so len(Cells) is a multiple of 7. today is
// compared by calendar date only.
func Build(year int, month time.Month, holidays model.HolidayMap, today time.Time, weekStart time.Weekday) Grid {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	total := lead + daysInMonth
	if rem := total % 7; rem != 0 {
		total += 7 - rem
	}
	todayKey := today.Format(model.DateLayout)

	g := Grid{
		Year:      first.Year(),
		Month:     first.Month(),
		Title:     fmt.Sprintf("%d年%d月", first.Year(), int(first.Month())),
		WeekStart: weekStart,
		Weekdays:  make([]string, 7),
		Cells:     make([]Cell, 0, total),
	}
	for i := range 7 {
		g.Weekdays[i] = weekdayNames[(int(weekStart)+i)%7]
	}

	start := first.AddDate(0, 0, -lead)
	for i := range total {
		d := start.AddDate(0, 0, i)
		key := d.Format(model.DateLayout)
		name := holidays[key]
		g.Cells = append(g.Cells, Cell{
			Date:        key,
			Day:         d.Day(),
			InMonth:     d.Month() == first.Month(),
			Weekday:     d.Weekday(),
			Highlight:   d.Weekday() == time.Sunday || name != "",
			Saturday:    d.Weekday() == time.Saturday,
			HolidayName: name,
			Today:       key == todayKey,
		})
	}
	return g
}

// Weeks splits the cells into rows of seven.
func (g Grid) Weeks() [][]Cell {
	rows := make([][]Cell, 0, len(g.Cells)/7)
	for i := 0; i+7 <= len(g.Cells); i += 7 {
		rows = append(rows, g.Cells[i:i+7])
	}
	return rows
}

// Cursor is the month currently shown.
type Cursor struct {
	Year  int
	Month time.Month
}

// CursorAt returns the cursor for t's month.
func CursorAt(t time.Time) Cursor {
	return Cursor{Year: t.Year(), Month: t.Month()}
}

// ParseCursor reads YYYY-MM.
func ParseCursor(s string) (Cursor, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Cursor{}, fmt.Errorf("month %q: %w", s, err)
	}
	return CursorAt(t), nil
}

func (c Cursor) first() time.Time {
	return time.Date(c.Year, c.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Prev moves one month back, crossing year boundaries.
func (c Cursor) Prev() Cursor { return CursorAt(c.first().AddDate(0, -1, 0)) }

// Next moves one month forward.
func (c Cursor) Next() Cursor { return CursorAt(c.first().AddDate(0, 1, 0)) }

// Today returns the cursor for today's month.
func Today(now time.Time) Cursor { return CursorAt(now) }

// String formats the cursor as YYYY-MM.
func (c Cursor) String() string { return c.first().Format("2006-01") }
