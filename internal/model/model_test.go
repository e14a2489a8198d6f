package model

import (
	"testing"
	"time"
)

func TestEventTimeInstant(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	timed := time.Date(2024, 2, 10, 9, 30, 0, 0, tokyo)

	tests := []struct {
		name   string
		in     EventTime
		want   time.Time
		ok     bool
		allDay bool
	}{
		{"timed", At(timed), timed, true, false},
		{"all-day is local midnight", OnDate("2024-02-10"), time.Date(2024, 2, 10, 0, 0, 0, 0, tokyo), true, true},
		{"garbage date", OnDate("10/02/2024"), time.Time{}, false, true},
		{"empty", EventTime{}, time.Time{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.in.Instant(tokyo)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Instant = %v, want %v", got, tt.want)
			}
			if tt.in.AllDay() != tt.allDay {
				t.Errorf("AllDay = %v, want %v", tt.in.AllDay(), tt.allDay)
			}
		})
	}
}

func TestThemeModeValid(t *testing.T) {
	for _, m := range []ThemeMode{ThemeAuto, ThemeLight, ThemeDark} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if ThemeMode("sepia").Valid() {
		t.Error("sepia should be invalid")
	}
}

func TestHolidayMapName(t *testing.T) {
	h := HolidayMap{"2024-02-11": "建国記念の日"}
	if got := h.Name(time.Date(2024, 2, 11, 15, 0, 0, 0, time.UTC)); got != "建国記念の日" {
		t.Errorf("Name = %q", got)
	}
	var empty HolidayMap
	if got := empty.Name(time.Now()); got != "" {
		t.Errorf("nil map Name = %q", got)
	}
}
