// Package shortcut manages the user's grid of shortcut links.
package shortcut

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"startpage/internal/cache"
	"startpage/internal/model"
)

// MaxShortcuts is the size of the grid.
const MaxShortcuts = 12

var (
	ErrInvalid = errors.New("shortcut: title and url are required")
	ErrFull    = errors.New("shortcut: grid is full")
	ErrIndex   = errors.New("shortcut: no such shortcut")
)

// stored is the persisted form of the list.
type stored struct {
	Data []model.Shortcut `json:"data"`
}

// Manager owns the ordered shortcut list. Every mutation writes the whole
// list through the cache.
type Manager struct {
	cache *cache.Cache

	mu    sync.Mutex
	items []model.Shortcut
}

// NewManager loads the list from c, which should already be primed.
func NewManager(c *cache.Cache) *Manager {
	m := &Manager{cache: c}
	var s stored
	if _, ok := c.Get(cache.Shortcuts, &s); ok {
		m.items = s.Data
	}
	return m
}

// List returns a copy of the shortcuts in display order.
func (m *Manager) List() []model.Shortcut {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Shortcut, len(m.items))
	copy(out, m.items)
	return out
}

// CanAdd reports whether another shortcut fits.
func (m *Manager) CanAdd() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) < MaxShortcuts
}

// Get returns the shortcut at i.
func (m *Manager) Get(i int) (model.Shortcut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.items) {
		return model.Shortcut{}, ErrIndex
	}
	return m.items[i], nil
}

// Add appends a shortcut.
func (m *Manager) Add(title, rawURL string) (model.Shortcut, error) {
	s, err := Normalize(title, rawURL)
	if err != nil {
		return model.Shortcut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) >= MaxShortcuts {
		return model.Shortcut{}, ErrFull
	}
	next := append(m.cloneLocked(), s)
	if err := m.commitLocked(next); err != nil {
		return model.Shortcut{}, err
	}
	return s, nil
}

// Update replaces the shortcut at i.
func (m *Manager) Update(i int, title, rawURL string) (model.Shortcut, error) {
	s, err := Normalize(title, rawURL)
	if err != nil {
		return model.Shortcut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.items) {
		return model.Shortcut{}, ErrIndex
	}
	next := m.cloneLocked()
	next[i] = s
	if err := m.commitLocked(next); err != nil {
		return model.Shortcut{}, err
	}
	return s, nil
}

// Delete removes the shortcut at i; later shortcuts move up.
func (m *Manager) Delete(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.items) {
		return ErrIndex
	}
	next := make([]model.Shortcut, 0, len(m.items)-1)
	next = append(next, m.items[:i]...)
	next = append(next, m.items[i+1:]...)
	return m.commitLocked(next)
}

// NavigateURL returns the URL to open for the shortcut at i. Only http and
// https URLs are navigable.
func (m *Manager) NavigateURL(i int) (string, error) {
	s, err := m.Get(i)
	if err != nil {
		return "", err
	}
	if !isHTTP(s.URL) {
		return "", fmt.Errorf("%w: %q is not an http(s) url", ErrInvalid, s.URL)
	}
	return s.URL, nil
}

func (m *Manager) cloneLocked() []model.Shortcut {
	out := make([]model.Shortcut, len(m.items), len(m.items)+1)
	copy(out, m.items)
	return out
}

func (m *Manager) commitLocked(next []model.Shortcut) error {
	if err := m.cache.Set(cache.Shortcuts, stored{Data: next}); err != nil {
		return err
	}
	m.items = next
	return nil
}

// Normalize trims title and URL and prefixes bare hosts with https://.
func Normalize(title, rawURL string) (model.Shortcut, error) {
	title = strings.TrimSpace(title)
	rawURL = strings.TrimSpace(rawURL)
	if title == "" || rawURL == "" {
		return model.Shortcut{}, ErrInvalid
	}
	if !hasHTTPScheme(rawURL) {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return model.Shortcut{}, fmt.Errorf("%w: bad url %q", ErrInvalid, rawURL)
	}
	return model.Shortcut{Title: title, URL: rawURL}, nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isHTTP(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FaviconURL returns the favicon service URL for the origin of rawURL, or
// "" when rawURL has no origin.
func FaviconURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	origin := u.Scheme + "://" + u.Host
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(origin) + "&sz=64"
}

// Initial is the placeholder letter shown when the favicon fails.
func Initial(title string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(title))
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}
