package agenda

import (
	"sort"
	"time"

	"startpage/internal/model"
)

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// effectiveStart is the instant used for ordering and bucketing. Events
// with an unusable start sort last.
func effectiveStart(e model.Event, loc *time.Location) time.Time {
	t, ok := e.Start.Instant(loc)
	if !ok {
		return time.Unix(1<<62, 0)
	}
	return t
}

// Merge concatenates per-source lists and sorts them ascending by effective
// start. The sort is stable: ties keep source order.
func Merge(loc *time.Location, lists ...[]model.Event) []model.Event {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]model.Event, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return effectiveStart(out[i], loc).Before(effectiveStart(out[j], loc))
	})
	return out
}

// Classify assigns the bucket of each event relative to day (any instant on
// the "today" day). Day boundaries are half-open and computed in loc.
func Classify(events []model.Event, day time.Time, loc *time.Location) []model.Event {
	today := StartOfDay(day, loc)
	tomorrow := today.AddDate(0, 0, 1)
	after := today.AddDate(0, 0, 2)

	out := make([]model.Event, len(events))
	for i, e := range events {
		s := effectiveStart(e, loc)
		switch {
		case !s.Before(today) && s.Before(tomorrow):
			e.Bucket = model.BucketToday
		case !s.Before(tomorrow) && s.Before(after):
			e.Bucket = model.BucketTomorrow
		default:
			e.Bucket = model.BucketOther
		}
		out[i] = e
	}
	return out
}

// StatusAt classifies e relative to now.
func StatusAt(e model.Event, now time.Time, loc *time.Location) model.Status {
	if e.Start.AllDay() {
		return model.StatusAllDay
	}
	start, ok := e.Start.Instant(loc)
	if !ok || e.End == nil {
		return model.StatusUpcoming
	}
	end, ok := e.End.Instant(loc)
	if !ok {
		return model.StatusUpcoming
	}
	switch {
	case !now.Before(end):
		return model.StatusPast
	case !now.Before(start):
		return model.StatusCurrent
	default:
		return model.StatusUpcoming
	}
}

// NowIndex returns where the "now" marker goes in a sorted single-day list:
// before the first timed event that starts after now, or at the end when
// none does. All-day events never bound the marker.
func NowIndex(events []model.Event, now time.Time, loc *time.Location) int {
	for i, e := range events {
		if e.Start.AllDay() {
			continue
		}
		if s, ok := e.Start.Instant(loc); ok && s.After(now) {
			return i
		}
	}
	return len(events)
}
