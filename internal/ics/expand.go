package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "startpage/internal/log"
	"startpage/internal/model"
)

const defaultMaxOccurrences = 500

// Window is the half-open range [Start, End) occurrences must overlap.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
	// MaxPerEvent caps the expansion of one recurring event.
	MaxPerEvent int
}

// Expand turns parsed VEVENTs into agenda events inside w, applying RRULE,
// EXDATE and RECURRENCE-ID overrides. The result is not sorted.
func Expand(events []ParsedEvent, w Window) ([]model.Event, error) {
	if !w.End.After(w.Start) {
		return nil, errors.New("ics expand: empty window")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for _, uid := range order {
		for _, ev := range bases[uid] {
			if ev.RawRRule == "" {
				if overlaps(ev, w) {
					out = append(out, toEvent(ev, ev.UID, w.Location))
				}
				continue
			}
			out = append(out, expandRecurring(ev, overrides[uid], w)...)
		}
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, w Window) []model.Event {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics rrule unreadable", err, "uid", ev.UID)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so instances already in
	// progress at w.Start are included.
	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	from := w.Start.Add(-dur).In(ev.Start.Location())
	to := w.End.In(ev.Start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > w.MaxPerEvent {
		appLog.Warn("ics expansion truncated", errors.New("occurrence cap reached"), "uid", ev.UID, "cap", w.MaxPerEvent)
		starts = starts[:w.MaxPerEvent]
	}

	var out []model.Event
	for _, s := range starts {
		inst := ev
		if o, ok := findOverride(overrides, s); ok {
			inst = o
		} else {
			inst.Start = s
			inst.End = s.Add(dur)
		}
		if !overlaps(inst, w) {
			continue
		}
		id := ev.UID + "@" + s.UTC().Format("20060102T150405Z")
		out = append(out, toEvent(inst, id, w.Location))
	}
	return out
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func overlaps(ev ParsedEvent, w Window) bool {
	if !ev.HasEnd || !ev.End.After(ev.Start) {
		return !ev.Start.Before(w.Start) && ev.Start.Before(w.End)
	}
	return ev.Start.Before(w.End) && ev.End.After(w.Start)
}

func toEvent(ev ParsedEvent, id string, loc *time.Location) model.Event {
	out := model.Event{
		ID:          id,
		Title:       ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
	}
	if ev.AllDay {
		out.Start = model.OnDate(ev.Start.Format(model.DateLayout))
		if ev.HasEnd {
			end := model.OnDate(ev.End.Format(model.DateLayout))
			out.End = &end
		}
		return out
	}
	out.Start = model.At(ev.Start.In(loc))
	if ev.HasEnd {
		end := model.At(ev.End.In(loc))
		out.End = &end
	}
	return out
}
