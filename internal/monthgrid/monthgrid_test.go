package monthgrid

import (
	"testing"
	"time"

	"startpage/internal/model"
)

func TestBuildFebruary2024(t *testing.T) {
	holidays := model.HolidayMap{"2024-02-11": "建国記念の日", "2024-02-23": "天皇誕生日"}
	today := time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC)

	g := Build(2024, time.February, holidays, today, time.Sunday)

	if len(g.Cells) != 35 {
		t.Fatalf("cells = %d, want 35", len(g.Cells))
	}
	inMonth := 0
	for _, c := range g.Cells {
		if c.InMonth {
			inMonth++
		}
	}
	if inMonth != 29 {
		t.Errorf("in-month cells = %d, want 29", inMonth)
	}

	lead := []string{"2024-01-28", "2024-01-29", "2024-01-30", "2024-01-31"}
	for i, want := range lead {
		if g.Cells[i].Date != want || g.Cells[i].InMonth {
			t.Errorf("cell %d = %+v, want leading %s", i, g.Cells[i], want)
		}
	}
	if c := g.Cells[33]; c.Date != "2024-03-01" || c.InMonth {
		t.Errorf("cell 33 = %+v", c)
	}
	if c := g.Cells[34]; c.Date != "2024-03-02" || !c.Saturday {
		t.Errorf("cell 34 = %+v", c)
	}

	byDate := map[string]Cell{}
	for _, c := range g.Cells {
		byDate[c.Date] = c
	}
	if c := byDate["2024-02-11"]; !c.Highlight || c.HolidayName != "建国記念の日" {
		t.Errorf("Feb 11 = %+v", c)
	}
	if c := byDate["2024-02-23"]; !c.Highlight || c.Weekday != time.Friday {
		t.Errorf("Feb 23 = %+v", c)
	}
	if c := byDate["2024-02-04"]; !c.Highlight || c.HolidayName != "" {
		t.Errorf("Sunday Feb 4 = %+v", c)
	}
	if c := byDate["2024-02-05"]; c.Highlight {
		t.Errorf("Monday Feb 5 highlighted")
	}
	if !byDate["2024-02-14"].Today || byDate["2024-02-15"].Today {
		t.Error("today flag misplaced")
	}
	if len(g.Weeks()) != 5 || g.Title != "2024年2月" || g.Weekdays[0] != "日" {
		t.Errorf("weeks=%d title=%q weekdays=%v", len(g.Weeks()), g.Title, g.Weekdays)
	}
}

func TestBuildMondayStart(t *testing.T) {
	g := Build(2024, time.September, nil, time.Time{}, time.Monday)
	// 2024-09-01 is a Sunday: six leading days with a Monday start.
	if g.Cells[0].Date != "2024-08-26" || g.Cells[6].Date != "2024-09-01" {
		t.Errorf("first row = %s..%s", g.Cells[0].Date, g.Cells[6].Date)
	}
	if len(g.Cells)%7 != 0 {
		t.Errorf("cells = %d", len(g.Cells))
	}
	if g.Weekdays[0] != "月" || g.Weekdays[6] != "日" {
		t.Errorf("weekdays = %v", g.Weekdays)
	}
}

func TestBuildExactFit(t *testing.T) {
	// February 2015 starts on Sunday and has 28 days.
	g := Build(2015, time.February, nil, time.Time{}, time.Sunday)
	if len(g.Cells) != 28 || !g.Cells[0].InMonth || !g.Cells[27].InMonth {
		t.Errorf("cells = %d", len(g.Cells))
	}
}

func TestCursor(t *testing.T) {
	c, err := ParseCursor("2024-01")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Prev().String(); got != "2023-12" {
		t.Errorf("Prev = %s", got)
	}
	if got := c.Prev().Next().Next().String(); got != "2024-02" {
		t.Errorf("Next = %s", got)
	}
	if got := Today(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)); got != (Cursor{Year: 2025, Month: time.March}) {
		t.Errorf("Today = %+v", got)
	}
	if _, err := ParseCursor("2024/01"); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseWeekStart(t *testing.T) {
	if ParseWeekStart("Monday") != time.Monday || ParseWeekStart("") != time.Sunday || ParseWeekStart("friday") != time.Sunday {
		t.Error("ParseWeekStart mismatch")
	}
}
