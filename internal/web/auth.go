package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appLog "startpage/internal/log"
)

const (
	loginPath       = "/auth/google/login"
	stateCookie     = "startpage_oauth_state"
	stateCookieLife = 10 * time.Minute
)

// GET /auth/google/login starts the consent flow. The state value is kept in
// a short-lived cookie and checked on the callback.
func (s *Server) handleGoogleLogin(c *gin.Context) {
	if s.google == nil {
		writeError(c, http.StatusNotFound, "google calendar is not configured")
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, int(stateCookieLife.Seconds()), "/auth/google", "", false, true)
	c.Redirect(http.StatusFound, s.google.AuthCodeURL(state))
}

// GET /auth/google/callback
func (s *Server) handleGoogleCallback(c *gin.Context) {
	if s.google == nil {
		writeError(c, http.StatusNotFound, "google calendar is not configured")
		return
	}
	if e := c.Query("error"); e != "" {
		appLog.Warn("google consent declined", nil, "error", e)
		writeError(c, http.StatusBadRequest, "consent was not granted")
		return
	}
	want, err := c.Cookie(stateCookie)
	if err != nil || want == "" || !secureCompare(want, c.Query("state")) {
		writeError(c, http.StatusBadRequest, "invalid oauth state")
		return
	}
	c.SetCookie(stateCookie, "", -1, "/auth/google", "", false, true)

	code := c.Query("code")
	if code == "" {
		writeError(c, http.StatusBadRequest, "missing code")
		return
	}
	if err := s.google.Exchange(c.Request.Context(), code); err != nil {
		appLog.Error("google token exchange failed", err)
		writeError(c, http.StatusBadGateway, "token exchange failed")
		return
	}
	appLog.Info("google calendar authorized")

	go s.refreshAgenda()
	c.Redirect(http.StatusFound, "/")
}

// backgroundContext bounds work that outlives the request that started it.
func backgroundContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), 2*timeout)
}
