package web

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"startpage/internal/agenda"
	"startpage/internal/ics"
	appLog "startpage/internal/log"
	"startpage/internal/model"
	"startpage/internal/monthgrid"
	"startpage/internal/shortcut"
)

type pageData struct {
	Theme  model.ThemeMode
	Clock  clockView
	Search string

	Weather *weatherView

	Month monthResponse

	Agenda       *agendaView
	Day          *sectionView
	AgendaError  string
	AuthRequired bool
	LoginURL     string

	Shortcuts    []shortcutView
	CanAdd       bool
	MaxShortcuts int
}

// GET /?month=YYYY-MM&day=YYYY-MM-DD
//
// Every region renders from whatever is cached; regions with nothing to show
// stay empty and the script fills them in.
func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	loc := s.agenda.Location()

	cur, ok := s.cursor(c.Query("month"))
	if !ok {
		cur = monthgrid.Today(s.now().In(loc))
	}

	data := pageData{
		Theme:        s.theme(),
		Clock:        newClockView(s.now().In(loc)),
		Month:        s.month(c, cur),
		Shortcuts:    newShortcutViews(s.shortcuts.List()),
		CanAdd:       s.shortcuts.CanAdd(),
		MaxShortcuts: shortcut.MaxShortcuts,
		LoginURL:     loginPath,
	}

	if w, ok := s.weather.Cached(); ok {
		v := newWeatherView(w)
		data.Weather = &v
	}

	if day := c.Query("day"); day != "" {
		if _, err := time.Parse(model.DateLayout, day); err == nil {
			sec, err := s.agenda.Day(ctx, day)
			if err != nil {
				data.AgendaError, data.AuthRequired = describeAgendaError(err)
			} else {
				v := newSectionView(sec, "", loc)
				data.Day = &v
			}
		}
	} else {
		a, ok := s.agenda.Current()
		if ok {
			go s.refreshAgenda()
		} else {
			var err error
			a, err = s.agenda.Refresh(ctx)
			if err != nil {
				data.AgendaError, data.AuthRequired = describeAgendaError(err)
			}
		}
		if data.AgendaError == "" {
			v := newAgendaView(a, loc)
			data.Agenda = &v
			data.AuthRequired = a.AuthRequired
		}
	}

	var buf bytes.Buffer
	if err := s.page.ExecuteTemplate(&buf, "index.html", data); err != nil {
		appLog.Error("page render failed", err)
		c.String(http.StatusInternalServerError, "render failed")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func describeAgendaError(err error) (string, bool) {
	if errors.Is(err, agenda.ErrAuthRequired) || errors.Is(err, agenda.ErrUnauthorized) {
		return "Google カレンダーへのアクセスを許可してください", true
	}
	appLog.Warn("page agenda failed", err)
	return "エラー: " + err.Error(), false
}

// GET /calendar.ics exports the two-day agenda.
func (s *Server) handleCalendarICS(c *gin.Context) {
	a, ok := s.agenda.Current()
	if !ok {
		var err error
		a, err = s.agenda.Refresh(c.Request.Context())
		if err != nil {
			s.agendaError(c, err)
			return
		}
	}
	events := make([]model.Event, 0, len(a.Today.Events)+len(a.Tomorrow.Events))
	events = append(events, a.Today.Events...)
	events = append(events, a.Tomorrow.Events...)

	body := ics.Export("startpage", events, s.now())
	c.Header("Content-Disposition", `inline; filename="agenda.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}
