package web

import (
	"fmt"
	"html/template"
	"regexp"
	"time"

	"startpage/internal/agenda"
	"startpage/internal/clock"
	"startpage/internal/model"
	"startpage/internal/sanitize"
	"startpage/internal/shortcut"
	"startpage/internal/weather"
)

const (
	defaultColor = "#4285f4"
	untitled     = "(タイトルなし)"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var weekdayShort = [7]string{"日", "月", "火", "水", "木", "金", "土"}

type weatherView struct {
	Temp         int    `json:"temp"`
	Code         int    `json:"code"`
	LocationName string `json:"locationName"`
	Icon         string `json:"icon"`
	Description  string `json:"description"`
}

func newWeatherView(w model.Weather) weatherView {
	cond := weather.Describe(w.Code)
	return weatherView{
		Temp:         w.Temp,
		Code:         w.Code,
		LocationName: w.LocationName,
		Icon:         cond.Icon,
		Description:  cond.Desc,
	}
}

// eventView is an event ready for display. The HTML fields have been through
// the sanitizer.
type eventView struct {
	ID              string        `json:"id"`
	Title           string        `json:"summary"`
	TimeLabel       string        `json:"timeLabel"`
	DetailLabel     string        `json:"detailLabel"`
	AllDay          bool          `json:"allDay"`
	Status          model.Status  `json:"status"`
	Color           string        `json:"calendarColor"`
	CalendarName    string        `json:"calendarName,omitempty"`
	LocationHTML    template.HTML `json:"locationHtml,omitempty"`
	DescriptionHTML template.HTML `json:"descriptionHtml,omitempty"`
}

type sectionView struct {
	Date     string      `json:"date"`
	Label    string      `json:"label"`
	Events   []eventView `json:"events"`
	NowIndex int         `json:"nowIndex"`
}

type agendaView struct {
	Sections     []sectionView `json:"sections"`
	FetchedAt    time.Time     `json:"fetchedAt"`
	AuthRequired bool          `json:"authRequired,omitempty"`
	LoginURL     string        `json:"loginUrl,omitempty"`
}

func newEventView(e model.Event, loc *time.Location) eventView {
	v := eventView{
		ID:           e.ID,
		Title:        e.Title,
		AllDay:       e.Start.AllDay(),
		Status:       e.Status,
		Color:        e.SourceColor,
		CalendarName: e.SourceName,
	}
	if v.Title == "" {
		v.Title = untitled
	}
	if !colorPattern.MatchString(v.Color) {
		v.Color = defaultColor
	}
	v.TimeLabel, v.DetailLabel = eventLabels(e, loc)
	if e.Location != "" {
		v.LocationHTML = template.HTML(sanitize.Linkify(e.Location))
	}
	if e.Description != "" {
		v.DescriptionHTML = template.HTML(sanitize.Description(e.Description))
	}
	return v
}

// eventLabels returns the short list label and the detail line.
func eventLabels(e model.Event, loc *time.Location) (string, string) {
	start, ok := e.Start.Instant(loc)
	if !ok {
		return "", ""
	}
	start = start.In(loc)
	if e.Start.AllDay() {
		return "終日", dayLabel(start) + " (終日)"
	}
	short := start.Format("15:04")
	detail := dayLabel(start) + " " + short
	if e.End != nil && e.End.DateTime != nil {
		detail += " - " + e.End.DateTime.In(loc).Format("15:04")
	}
	return short, detail
}

// dayLabel renders "2月20日(火)".
func dayLabel(t time.Time) string {
	return fmt.Sprintf("%d月%d日(%s)", int(t.Month()), t.Day(), weekdayShort[t.Weekday()])
}

func newSectionView(sec agenda.Section, label string, loc *time.Location) sectionView {
	v := sectionView{
		Date:     sec.Date,
		Label:    label,
		Events:   make([]eventView, 0, len(sec.Events)),
		NowIndex: sec.NowIndex,
	}
	if v.Label == "" {
		if d, err := time.ParseInLocation(model.DateLayout, sec.Date, loc); err == nil {
			v.Label = dayLabel(d)
		} else {
			v.Label = sec.Date
		}
	}
	for _, e := range sec.Events {
		v.Events = append(v.Events, newEventView(e, loc))
	}
	return v
}

func newAgendaView(a agenda.Agenda, loc *time.Location) agendaView {
	v := agendaView{
		Sections: []sectionView{
			newSectionView(a.Today, "今日", loc),
			newSectionView(a.Tomorrow, "明日", loc),
		},
		FetchedAt:    a.FetchedAt,
		AuthRequired: a.AuthRequired,
	}
	if v.AuthRequired {
		v.LoginURL = loginPath
	}
	return v
}

type shortcutView struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
	Initial string `json:"initial"`
}

func newShortcutViews(list []model.Shortcut) []shortcutView {
	out := make([]shortcutView, 0, len(list))
	for i, sc := range list {
		out = append(out, shortcutView{
			Index:   i,
			Title:   sc.Title,
			URL:     sc.URL,
			Favicon: shortcut.FaviconURL(sc.URL),
			Initial: shortcut.Initial(sc.Title),
		})
	}
	return out
}

type clockView struct {
	Time string `json:"time"`
	Date string `json:"date"`
}

func newClockView(t time.Time) clockView {
	return clockView{Time: clock.FormatTime(t), Date: clock.FormatDate(t)}
}
