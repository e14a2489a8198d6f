package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	"startpage/internal/config"
	"startpage/internal/model"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:daily
DTSTART;TZID=Asia/Tokyo:20240205T100000
DTEND;TZID=Asia/Tokyo:20240205T110000
RRULE:FREQ=DAILY;COUNT=10
EXDATE;TZID=Asia/Tokyo:20240211T100000
SUMMARY:Daily
END:VEVENT
BEGIN:VEVENT
UID:daily
RECURRENCE-ID;TZID=Asia/Tokyo:20240210T100000
DTSTART;TZID=Asia/Tokyo:20240210T150000
DTEND;TZID=Asia/Tokyo:20240210T160000
SUMMARY:Daily (moved)
END:VEVENT
BEGIN:VEVENT
UID:trip
DTSTART;VALUE=DATE:20240211
DTEND;VALUE=DATE:20240212
SUMMARY:Trip
LOCATION:Kyoto
END:VEVENT
BEGIN:VEVENT
UID:far
DTSTART:20240301T000000Z
DTEND:20240301T010000Z
SUMMARY:Far
END:VEVENT
BEGIN:VEVENT
SUMMARY:no uid
DTSTART:20240210T000000Z
END:VEVENT
END:VCALENDAR
`

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseAndExpand(t *testing.T) {
	loc := tokyo(t)
	parsed, err := Parse("test", crlf(sample), loc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 4 {
		t.Fatalf("parsed %d events, want 4 (missing UID skipped)", len(parsed))
	}

	start := time.Date(2024, 2, 10, 0, 0, 0, 0, loc)
	events, err := Expand(parsed, Window{Start: start, End: start.AddDate(0, 0, 2), Location: loc})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}

	moved := events[0]
	if moved.ID != "daily@20240210T010000Z" || moved.Title != "Daily (moved)" {
		t.Errorf("override = %+v", moved)
	}
	if got := moved.Start.DateTime.In(loc).Hour(); got != 15 {
		t.Errorf("override start hour = %d", got)
	}

	trip := events[1]
	if !trip.Start.AllDay() || trip.Start.Date != "2024-02-11" || trip.End == nil || trip.End.Date != "2024-02-12" {
		t.Errorf("all-day = %+v", trip)
	}
}

func TestExpandInProgressInstance(t *testing.T) {
	loc := tokyo(t)
	ev := ParsedEvent{
		UID:      "night",
		Summary:  "Night shift",
		Start:    time.Date(2024, 2, 1, 22, 0, 0, 0, loc),
		End:      time.Date(2024, 2, 2, 6, 0, 0, 0, loc),
		HasEnd:   true,
		RawRRule: "FREQ=DAILY",
	}
	start := time.Date(2024, 2, 10, 0, 0, 0, 0, loc)
	events, err := Expand([]ParsedEvent{ev}, Window{Start: start, End: start.AddDate(0, 0, 1), Location: loc})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want the overnight one and tonight's", len(events))
	}
}

func TestExpandRejectsEmptyWindow(t *testing.T) {
	now := time.Now()
	if _, err := Expand(nil, Window{Start: now, End: now}); err == nil {
		t.Error("expected error")
	}
}

func TestFeedConditionalFetch(t *testing.T) {
	loc := tokyo(t)
	var (
		hits        atomic.Int32
		notModified atomic.Int32
		down        atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(sample))
	}))
	defer srv.Close()

	fetcher := NewFetcher(t.TempDir(), time.Second)
	feed := NewFeed(config.ICSConfig{ID: "school", URL: srv.URL + "/private/token.ics", Color: "#00aa00"}, fetcher, loc)
	if src := feed.Source(); src.Name != "school" || !src.Selected {
		t.Errorf("source = %+v", src)
	}

	start := time.Date(2024, 2, 10, 0, 0, 0, 0, loc)
	for i := range 2 {
		events, err := feed.Events(context.Background(), start, start.AddDate(0, 0, 2))
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if len(events) != 2 {
			t.Fatalf("round %d: %d events", i, len(events))
		}
	}
	if notModified.Load() != 1 {
		t.Errorf("conditional request not used: 304s = %d", notModified.Load())
	}

	down.Store(true)
	if _, err := feed.Events(context.Background(), start, start.AddDate(0, 0, 2)); err != nil {
		t.Errorf("cached body should cover an outage: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d", hits.Load())
	}
}

func TestFetchWithoutCacheFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, _, err := NewFetcher(t.TempDir(), time.Second).Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error")
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}

func TestExport(t *testing.T) {
	loc := tokyo(t)
	start := time.Date(2024, 2, 10, 9, 0, 0, 0, loc)
	end := start.Add(time.Hour)
	endT := model.At(end)
	tripEnd := model.OnDate("2024-02-12")
	events := []model.Event{
		{ID: "e1", Title: "Standup", Start: model.At(start), End: &endT, Location: "Room 1", SourceName: "Work"},
		{ID: "e2", Title: "Trip", Start: model.OnDate("2024-02-11"), End: &tripEnd},
	}

	out := Export("Agenda", events, start)
	for _, want := range []string{"METHOD:PUBLISH", "DTSTART;VALUE=DATE:20240211", "DTSTART:20240210T000000Z", "X-WR-CALNAME:Agenda"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("exported calendar does not parse: %v", err)
	}
	if n := len(cal.Events()); n != 2 {
		t.Errorf("events = %d", n)
	}
	if uid := cal.Events()[0].Id(); uid != "e1@Work" {
		t.Errorf("uid = %q", uid)
	}
}
