package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"startpage/internal/agenda"
	"startpage/internal/cache"
	"startpage/internal/config"
	"startpage/internal/gcal"
	"startpage/internal/holiday"
	appLog "startpage/internal/log"
	"startpage/internal/shortcut"
	"startpage/internal/weather"
)

// Deps are the components the server renders and mutates. Google may be nil
// when no OAuth client is configured.
type Deps struct {
	Config    *config.Config
	Cache     *cache.Cache
	Weather   *weather.Service
	Holidays  *holiday.Service
	Agenda    *agenda.Builder
	Shortcuts *shortcut.Manager
	Google    *gcal.TokenSource
	// Now replaces time.Now (tests).
	Now func() time.Time
}

// Server serves the start page, its JSON API, the clock stream and the
// Google consent endpoints.
type Server struct {
	cfg       *config.Config
	cache     *cache.Cache
	weather   *weather.Service
	holidays  *holiday.Service
	agenda    *agenda.Builder
	shortcuts *shortcut.Manager
	google    *gcal.TokenSource
	now       func() time.Time

	engine *gin.Engine
	page   *template.Template
}

//go:embed templates static
var embedded embed.FS

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		cache:     d.Cache,
		weather:   d.Weather,
		holidays:  d.Holidays,
		agenda:    d.Agenda,
		shortcuts: d.Shortcuts,
		google:    d.Google,
		now:       d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.page = template.Must(template.ParseFS(embedded, "templates/*.html"))

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		s.engine.Use(s.basicAuth())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.engine

	static, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	r.StaticFS("/static", http.FS(static))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/search", s.handleSearch)
	r.GET("/go/:index", s.handleGo)
	r.POST("/shortcuts", s.handleShortcutForm)
	r.POST("/shortcuts/:index/delete", s.handleShortcutFormDelete)
	r.GET("/calendar.ics", s.handleCalendarICS)
	r.GET("/preview.png", s.handlePreview)

	auth := r.Group("/auth/google")
	{
		auth.GET("/login", s.handleGoogleLogin)
		auth.GET("/callback", s.handleGoogleCallback)
	}

	api := r.Group("/api")
	{
		api.GET("/weather", s.handleWeather)
		api.GET("/holidays", s.handleHolidays)
		api.GET("/month", s.handleMonth)
		api.GET("/clock", s.handleClock)

		api.GET("/agenda", s.handleAgenda)
		api.POST("/agenda/refresh", s.handleAgendaRefresh)
		api.GET("/agenda/day/:date", s.handleAgendaDay)

		api.GET("/shortcuts", s.handleShortcutList)
		api.POST("/shortcuts", s.handleShortcutAdd)
		api.PUT("/shortcuts/:index", s.handleShortcutUpdate)
		api.DELETE("/shortcuts/:index", s.handleShortcutDelete)

		api.GET("/theme", s.handleThemeGet)
		api.PUT("/theme", s.handleThemePut)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	ba := s.cfg.BasicAuth
	return ba.Username != "" && (ba.Password != "" || ba.PasswordBcrypt != "")
}

// basicAuth guards every route except /health.
func (s *Server) basicAuth() gin.HandlerFunc {
	ba := *s.cfg.BasicAuth
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, ba.Username) || !checkPassword(ba, p) {
			c.Header("WWW-Authenticate", `Basic realm="startpage", charset="UTF-8"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func checkPassword(ba config.BasicAuthConfig, p string) bool {
	if ba.PasswordBcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(ba.PasswordBcrypt), []byte(p)) == nil
	}
	return secureCompare(p, ba.Password)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/api/clock" {
			return
		}
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handlePreview serves the last -snapshot capture from the data directory.
func (s *Server) handlePreview(c *gin.Context) {
	c.File(s.cfg.PreviewPath())
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
