// Package agenda builds the two-day calendar view: it acquires a token,
// resolves the selected calendars, fetches every calendar and feed in
// parallel with one compensating retry for expired tokens, then merges,
// classifies and marks "now".
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"startpage/internal/cache"
	appLog "startpage/internal/log"
	"startpage/internal/model"
)

var (
	// ErrUnauthorized is returned by Calendar implementations when the
	// access token was rejected (HTTP 401).
	ErrUnauthorized = errors.New("agenda: unauthorized")
	// ErrAuthRequired means no token can be obtained without the user going
	// through the consent flow.
	ErrAuthRequired = errors.New("agenda: authorization required")
	// ErrAllSourcesFailed means every calendar and feed failed in a cycle.
	ErrAllSourcesFailed = errors.New("agenda: all sources failed")
)

// TokenProvider hands out bearer tokens for the calendar API.
type TokenProvider interface {
	// Token returns a cached token or obtains a fresh one.
	Token(ctx context.Context) (string, error)
	// Invalidate drops token so the next Token call refreshes it.
	Invalidate(token string)
}

// Calendar is the remote calendar API.
type Calendar interface {
	CalendarList(ctx context.Context, token string) ([]model.CalendarSource, error)
	Events(ctx context.Context, token, calendarID string, start, end time.Time) ([]model.Event, error)
}

// Feed is an event source that needs no token (ICS subscriptions).
type Feed interface {
	Source() model.CalendarSource
	Events(ctx context.Context, start, end time.Time) ([]model.Event, error)
}

// Section is one day of the agenda.
type Section struct {
	Date   string        `json:"date"`
	Events []model.Event `json:"events"`
	// NowIndex is the marker position, or -1 when now is not on this day.
	NowIndex int `json:"nowIndex"`
}

// Agenda is the two-day view.
type Agenda struct {
	Today     Section   `json:"today"`
	Tomorrow  Section   `json:"tomorrow"`
	FetchedAt time.Time `json:"fetchedAt"`
	// AuthRequired is set when Google calendars were skipped because the
	// user has not granted access yet.
	AuthRequired bool `json:"authRequired,omitempty"`
}

// snapshot is the cached form of a cycle result.
type snapshot struct {
	Events       []model.Event `json:"events"`
	StartOfDay   time.Time     `json:"startOfDay"`
	AuthRequired bool          `json:"authRequired,omitempty"`
}

type calendarList struct {
	Calendars []model.CalendarSource `json:"calendars"`
}

// Builder runs agenda cycles. It is safe for concurrent use.
type Builder struct {
	tokens   TokenProvider
	calendar Calendar
	feeds    []Feed
	cache    *cache.Cache
	loc      *time.Location
	now      func() time.Time
	timeout  time.Duration

	mu        sync.Mutex
	generated uint64
	stored    uint64
}

// Option customizes a Builder.
type Option func(*Builder)

// WithGoogle enables the Google calendars.
func WithGoogle(tokens TokenProvider, cal Calendar) Option {
	return func(b *Builder) {
		b.tokens = tokens
		b.calendar = cal
	}
}

// WithFeeds adds token-less feeds to every cycle.
func WithFeeds(feeds ...Feed) Option {
	return func(b *Builder) { b.feeds = append(b.feeds, feeds...) }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New returns a Builder storing its results in c. Day boundaries are
// computed in loc.
func New(c *cache.Cache, loc *time.Location, opts ...Option) *Builder {
	if loc == nil {
		loc = time.Local
	}
	b := &Builder{
		cache:   c,
		loc:     loc,
		now:     time.Now,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Location returns the timezone used for day boundaries.
func (b *Builder) Location() *time.Location { return b.loc }

// Refresh runs one full cycle for today and tomorrow and stores the result.
// On error the previously cached agenda is left untouched. A cycle that
// finishes after a newer one has been stored is returned but not cached.
func (b *Builder) Refresh(ctx context.Context) (Agenda, error) {
	gen := b.nextGeneration()
	now := b.now()
	start := StartOfDay(now, b.loc)
	end := start.AddDate(0, 0, 2)

	res, err := b.collect(ctx, start, end)
	if err != nil {
		appLog.Warn("agenda refresh failed", err, "generation", gen)
		return Agenda{}, err
	}

	snap := snapshot{
		Events:       Classify(res.events, start, b.loc),
		StartOfDay:   start,
		AuthRequired: res.authRequired,
	}
	b.store(gen, snap)

	appLog.Info("agenda refreshed", "generation", gen, "events", len(snap.Events), "failed_sources", res.failed)
	return b.view(snap, b.now()), nil
}

// Current returns the cached agenda, recomputing statuses and the now marker
// for the current instant. ok is false when nothing usable is cached, which
// includes a snapshot taken on an earlier day.
func (b *Builder) Current() (Agenda, bool) {
	var snap snapshot
	entry, ok := b.cache.Get(cache.Events, &snap)
	if !ok {
		return Agenda{}, false
	}
	now := b.now()
	if !snap.StartOfDay.Equal(StartOfDay(now, b.loc)) {
		return Agenda{}, false
	}
	a := b.view(snap, now)
	a.FetchedAt = entry.Timestamp
	return a, true
}

// Day fetches a single day without touching the cached agenda.
func (b *Builder) Day(ctx context.Context, date string) (Section, error) {
	d, err := time.ParseInLocation(model.DateLayout, date, b.loc)
	if err != nil {
		return Section{}, fmt.Errorf("agenda day %q: %w", date, err)
	}
	res, err := b.collect(ctx, d, d.AddDate(0, 0, 1))
	if err != nil {
		return Section{}, err
	}
	now := b.now()
	sec := Section{Date: date, Events: res.events, NowIndex: -1}
	for i := range sec.Events {
		sec.Events[i].Status = StatusAt(sec.Events[i], now, b.loc)
	}
	if StartOfDay(now, b.loc).Equal(d) {
		sec.NowIndex = NowIndex(sec.Events, now, b.loc)
	}
	return sec, nil
}

func (b *Builder) nextGeneration() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generated++
	return b.generated
}

func (b *Builder) store(gen uint64, snap snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen < b.stored {
		appLog.Debug("agenda result superseded", "generation", gen, "stored", b.stored)
		return
	}
	if err := b.cache.Set(cache.Events, snap); err != nil {
		appLog.Error("agenda cache set failed", err)
		return
	}
	b.stored = gen
}

func (b *Builder) view(snap snapshot, now time.Time) Agenda {
	today := StartOfDay(snap.StartOfDay, b.loc)
	tomorrow := today.AddDate(0, 0, 1)

	a := Agenda{
		Today:        Section{Date: today.Format(model.DateLayout), Events: []model.Event{}, NowIndex: -1},
		Tomorrow:     Section{Date: tomorrow.Format(model.DateLayout), Events: []model.Event{}, NowIndex: -1},
		FetchedAt:    now,
		AuthRequired: snap.AuthRequired,
	}
	for _, e := range snap.Events {
		e.Status = StatusAt(e, now, b.loc)
		switch e.Bucket {
		case model.BucketToday:
			a.Today.Events = append(a.Today.Events, e)
		case model.BucketTomorrow:
			a.Tomorrow.Events = append(a.Tomorrow.Events, e)
		}
	}

	day := StartOfDay(now, b.loc)
	switch {
	case day.Equal(today):
		a.Today.NowIndex = NowIndex(a.Today.Events, now, b.loc)
	case day.Equal(tomorrow):
		a.Tomorrow.NowIndex = NowIndex(a.Tomorrow.Events, now, b.loc)
	}
	return a
}
