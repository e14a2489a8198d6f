package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"startpage/internal/model"
)

const productID = "-//startpage//agenda//JA"

// Export serializes events as a PUBLISH calendar named name. stamp is used
// for every DTSTAMP.
func Export(name string, events []model.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
	}

	for _, e := range events {
		ve := cal.AddEvent(exportUID(e))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(e.Title)
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}

		if e.Start.AllDay() {
			start, ok := e.Start.Instant(time.UTC)
			if !ok {
				continue
			}
			ve.SetAllDayStartAt(start)
			end := start.AddDate(0, 0, 1)
			if e.End != nil {
				if t, ok := e.End.Instant(time.UTC); ok && t.After(start) {
					end = t
				}
			}
			ve.SetAllDayEndAt(end)
			continue
		}

		if e.Start.DateTime != nil {
			ve.SetStartAt(*e.Start.DateTime)
		}
		if e.End != nil && e.End.DateTime != nil {
			ve.SetEndAt(*e.End.DateTime)
		}
	}
	return cal.Serialize()
}

func exportUID(e model.Event) string {
	id := e.ID
	if id == "" {
		id = e.Title
	}
	if e.SourceName != "" {
		return id + "@" + e.SourceName
	}
	return id
}
