// Package cache is the TTL cache shared by every data domain of the start
// page. It keeps an in-memory mirror of the persistent store that is loaded
// once at startup; reads are served from the mirror and writes go to the
// mirror first and to the store in the background.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "startpage/internal/log"
	"startpage/internal/store"
)

// Domain associates a logical data domain with its storage key and max age.
// A zero MaxAge means entries never expire.
type Domain struct {
	Name   string
	Key    string
	MaxAge time.Duration
}

var (
	Theme        = Domain{Name: "theme", Key: "dashboardTheme"}
	Weather      = Domain{Name: "weather", Key: "weatherCache", MaxAge: 10 * time.Minute}
	Holidays     = Domain{Name: "holidays", Key: "holidaysCache", MaxAge: 24 * time.Hour}
	Events       = Domain{Name: "events", Key: "calendarEventsCache", MaxAge: 5 * time.Minute}
	CalendarList = Domain{Name: "calendarList", Key: "calendarListCache", MaxAge: time.Hour}
	Shortcuts    = Domain{Name: "shortcuts", Key: "shortcuts"}
)

// Domains lists every configured domain in priming order.
func Domains() []Domain {
	return []Domain{Theme, Weather, Holidays, Events, CalendarList, Shortcuts}
}

// timestampField is merged into every stored payload.
const timestampField = "timestamp"

const persistTimeout = 10 * time.Second

// Entry is the metadata of a cached value.
type Entry struct {
	Timestamp time.Time
}

// Cache is the TTL cache store. It is safe for concurrent use.
type Cache struct {
	store  store.Store
	now    func() time.Time
	maxAge map[string]time.Duration

	mu     sync.RWMutex
	mirror map[string]json.RawMessage

	persistMu sync.Mutex
	pending   sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMaxAge overrides the max age of d. Non-positive values are ignored.
func WithMaxAge(d Domain, maxAge time.Duration) Option {
	return func(c *Cache) {
		if maxAge > 0 {
			c.maxAge[d.Key] = maxAge
		}
	}
}

// New returns a cache over s with an empty mirror. Call PrimeAll to load
// persisted values.
func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  s,
		now:    time.Now,
		maxAge: make(map[string]time.Duration),
		mirror: make(map[string]json.RawMessage),
	}
	for _, d := range Domains() {
		c.maxAge[d.Key] = d.MaxAge
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAge returns the effective max age of d.
func (c *Cache) MaxAge(d Domain) time.Duration {
	if v, ok := c.maxAge[d.Key]; ok {
		return v
	}
	return d.MaxAge
}

// PrimeAll loads every configured key in one batched read. A failed read is
// logged and leaves an empty mirror; it never fails the caller.
func (c *Cache) PrimeAll(ctx context.Context) {
	keys := make([]string, 0, len(Domains()))
	for _, d := range Domains() {
		keys = append(keys, d.Key)
	}

	loaded, err := c.store.GetMany(ctx, keys)
	if err != nil {
		appLog.Warn("cache prime failed; starting empty", err)
		loaded = map[string]json.RawMessage{}
	}
	if loaded == nil {
		loaded = map[string]json.RawMessage{}
	}

	c.mu.Lock()
	c.mirror = loaded
	c.mu.Unlock()

	appLog.Debug("cache primed", "keys", len(loaded))
}

// Get decodes the mirrored entry for d into dst (which may be nil) and
// reports whether it was present and fresh. Expired and absent entries are
// indistinguishable.
func (c *Cache) Get(d Domain, dst any) (Entry, bool) {
	c.mu.RLock()
	raw, ok := c.mirror[d.Key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	var meta struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		appLog.Warn("cache entry unreadable", err, "key", d.Key)
		return Entry{}, false
	}
	entry := Entry{Timestamp: time.UnixMilli(meta.Timestamp)}

	if maxAge := c.MaxAge(d); maxAge > 0 && c.now().Sub(entry.Timestamp) >= maxAge {
		return Entry{}, false
	}

	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			appLog.Warn("cache entry decode failed", err, "key", d.Key)
			return Entry{}, false
		}
	}
	return entry, true
}

// Set stamps payload with the current instant, updates the mirror, and
// persists in the background. payload must encode to a JSON object. A failed
// persist is logged; the mirror stays authoritative for the session.
func (c *Cache) Set(d Domain, payload any) error {
	raw, err := stamp(payload, c.now())
	if err != nil {
		return fmt.Errorf("cache set %s: %w", d.Name, err)
	}

	c.mu.Lock()
	c.mirror[d.Key] = raw
	c.mu.Unlock()

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.persist(d.Key)
	}()
	return nil
}

// Wait blocks until all background persists have finished.
func (c *Cache) Wait() {
	c.pending.Wait()
}

// persist writes the current mirror value of key. Persists are serialized and
// always read the latest value, so an older value is never written last.
func (c *Cache) persist(key string) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	raw, ok := c.mirror[key]
	c.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.store.Set(ctx, key, raw); err != nil {
		appLog.Warn("cache write failed", err, "key", key)
	}
}

func stamp(payload any, now time.Time) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	ts, _ := json.Marshal(now.UnixMilli())
	fields[timestampField] = ts
	return json.Marshal(fields)
}
