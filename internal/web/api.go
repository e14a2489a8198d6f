package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"startpage/internal/agenda"
	"startpage/internal/cache"
	"startpage/internal/clock"
	appLog "startpage/internal/log"
	"startpage/internal/model"
	"startpage/internal/monthgrid"
	"startpage/internal/shortcut"
	"startpage/internal/weather"
)

// GET /api/weather?lat=..&lon=..
//
// Both coordinates come from the browser's geolocation; without them the
// configured position is used.
func (s *Server) handleWeather(c *gin.Context) {
	pos, err := parsePosition(c.Query("lat"), c.Query("lon"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	w, err := s.weather.Current(c.Request.Context(), pos)
	if err != nil {
		appLog.Warn("api weather failed", err)
		writeError(c, http.StatusBadGateway, "weather unavailable")
		return
	}
	c.JSON(http.StatusOK, newWeatherView(w))
}

func parsePosition(lat, lon string) (*weather.Position, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil || la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil, errors.New("lat and lon must be valid coordinates")
	}
	return &weather.Position{Lat: la, Lon: lo}, nil
}

// GET /api/holidays
func (s *Server) handleHolidays(c *gin.Context) {
	c.JSON(http.StatusOK, s.holidays.Current(c.Request.Context()))
}

type monthResponse struct {
	monthgrid.Grid
	Prev  string `json:"prev"`
	Next  string `json:"next"`
	Today string `json:"today"`
}

// GET /api/month?month=YYYY-MM
func (s *Server) handleMonth(c *gin.Context) {
	cur, ok := s.cursor(c.Query("month"))
	if !ok {
		writeError(c, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	c.JSON(http.StatusOK, s.month(c, cur))
}

func (s *Server) cursor(q string) (monthgrid.Cursor, bool) {
	if q == "" {
		return monthgrid.Today(s.now().In(s.agenda.Location())), true
	}
	cur, err := monthgrid.ParseCursor(q)
	return cur, err == nil
}

func (s *Server) month(c *gin.Context, cur monthgrid.Cursor) monthResponse {
	now := s.now().In(s.agenda.Location())
	holidays := s.holidays.Current(c.Request.Context())
	g := monthgrid.Build(cur.Year, cur.Month, holidays, now, monthgrid.ParseWeekStart(s.cfg.WeekStart))
	return monthResponse{
		Grid:  g,
		Prev:  cur.Prev().String(),
		Next:  cur.Next().String(),
		Today: monthgrid.Today(now).String(),
	}
}

// GET /api/agenda
//
// Answers from the cache when today's snapshot is there and refreshes it in
// the background; otherwise runs a cycle synchronously.
func (s *Server) handleAgenda(c *gin.Context) {
	if a, ok := s.agenda.Current(); ok {
		go s.refreshAgenda()
		c.JSON(http.StatusOK, newAgendaView(a, s.agenda.Location()))
		return
	}
	s.handleAgendaRefresh(c)
}

// POST /api/agenda/refresh
func (s *Server) handleAgendaRefresh(c *gin.Context) {
	a, err := s.agenda.Refresh(c.Request.Context())
	if err != nil {
		s.agendaError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAgendaView(a, s.agenda.Location()))
}

// GET /api/agenda/day/:date
func (s *Server) handleAgendaDay(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	sec, err := s.agenda.Day(c.Request.Context(), date)
	if err != nil {
		s.agendaError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSectionView(sec, "", s.agenda.Location()))
}

// agendaError maps a cycle error onto a scoped calendar error.
func (s *Server) agendaError(c *gin.Context, err error) {
	if errors.Is(err, agenda.ErrAuthRequired) || errors.Is(err, agenda.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_required", "loginUrl": loginPath})
		return
	}
	appLog.Warn("api agenda failed", err)
	writeError(c, http.StatusBadGateway, "calendar unavailable")
}

func (s *Server) refreshAgenda() {
	ctx, cancel := backgroundContext(s.cfg.HTTPTimeout)
	defer cancel()
	if _, err := s.agenda.Refresh(ctx); err != nil {
		appLog.Debug("agenda revalidate failed", "err", err)
	}
}

type shortcutRequest struct {
	Title string `json:"title" form:"title"`
	URL   string `json:"url" form:"url"`
}

type shortcutsResponse struct {
	Shortcuts []shortcutView `json:"shortcuts"`
	CanAdd    bool           `json:"canAdd"`
	Max       int            `json:"max"`
}

func (s *Server) shortcutsResponse() shortcutsResponse {
	return shortcutsResponse{
		Shortcuts: newShortcutViews(s.shortcuts.List()),
		CanAdd:    s.shortcuts.CanAdd(),
		Max:       shortcut.MaxShortcuts,
	}
}

// GET /api/shortcuts
func (s *Server) handleShortcutList(c *gin.Context) {
	c.JSON(http.StatusOK, s.shortcutsResponse())
}

// POST /api/shortcuts
func (s *Server) handleShortcutAdd(c *gin.Context) {
	var req shortcutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.shortcuts.Add(req.Title, req.URL); err != nil {
		shortcutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.shortcutsResponse())
}

// PUT /api/shortcuts/:index
func (s *Server) handleShortcutUpdate(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req shortcutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.shortcuts.Update(i, req.Title, req.URL); err != nil {
		shortcutError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.shortcutsResponse())
}

// DELETE /api/shortcuts/:index
func (s *Server) handleShortcutDelete(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := s.shortcuts.Delete(i); err != nil {
		shortcutError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.shortcutsResponse())
}

// POST /shortcuts
//
// No-JS form: adds, or updates when an index field is present. Invalid input
// is dropped silently.
func (s *Server) handleShortcutForm(c *gin.Context) {
	var req shortcutRequest
	_ = c.ShouldBind(&req)

	var err error
	if idx := c.PostForm("index"); idx != "" {
		i, convErr := strconv.Atoi(idx)
		if convErr != nil {
			c.Redirect(http.StatusSeeOther, "/")
			return
		}
		_, err = s.shortcuts.Update(i, req.Title, req.URL)
	} else {
		_, err = s.shortcuts.Add(req.Title, req.URL)
	}
	if err != nil {
		appLog.Debug("shortcut form rejected", "err", err)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// POST /shortcuts/:index/delete
func (s *Server) handleShortcutFormDelete(c *gin.Context) {
	if i, err := strconv.Atoi(c.Param("index")); err == nil {
		if err := s.shortcuts.Delete(i); err != nil {
			appLog.Debug("shortcut delete rejected", "err", err)
		}
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// GET /go/:index
func (s *Server) handleGo(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	u, err := s.shortcuts.NavigateURL(i)
	if err != nil {
		shortcutError(c, err)
		return
	}
	c.Redirect(http.StatusFound, u)
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "index must be a number")
		return 0, false
	}
	return i, true
}

func shortcutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, shortcut.ErrInvalid):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, shortcut.ErrFull):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, shortcut.ErrIndex):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		appLog.Error("shortcut update failed", err)
		writeError(c, http.StatusInternalServerError, "failed to save shortcuts")
	}
}

type themePayload struct {
	Mode model.ThemeMode `json:"mode"`
}

func (s *Server) theme() model.ThemeMode {
	var t themePayload
	if _, ok := s.cache.Get(cache.Theme, &t); ok && t.Mode.Valid() {
		return t.Mode
	}
	return model.ThemeAuto
}

// GET /api/theme
func (s *Server) handleThemeGet(c *gin.Context) {
	c.JSON(http.StatusOK, themePayload{Mode: s.theme()})
}

// PUT /api/theme
func (s *Server) handleThemePut(c *gin.Context) {
	var t themePayload
	if err := c.ShouldBindJSON(&t); err != nil || !t.Mode.Valid() {
		writeError(c, http.StatusBadRequest, "mode must be auto, light or dark")
		return
	}
	if err := s.cache.Set(cache.Theme, t); err != nil {
		appLog.Error("theme save failed", err)
		writeError(c, http.StatusInternalServerError, "failed to save theme")
		return
	}
	c.JSON(http.StatusOK, t)
}

// GET /api/clock streams one "tick" event per second.
func (s *Server) handleClock(c *gin.Context) {
	ctx := c.Request.Context()
	loc := s.agenda.Location()
	ticks := make(chan time.Time, 1)
	go clock.Run(ctx, s.now, func(t time.Time) {
		select {
		case ticks <- t:
		default:
		}
	})

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case t := <-ticks:
			c.SSEvent("tick", newClockView(t.In(loc)))
			return true
		}
	})
}

// GET /search?q=
func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, s.cfg.SearchURL+url.QueryEscape(q))
}
