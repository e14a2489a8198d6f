// Package holiday fetches the public holiday table used to highlight month
// grid cells.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"startpage/internal/cache"
	appLog "startpage/internal/log"
	"startpage/internal/model"
)

// Fetcher downloads the holiday table: a JSON object mapping YYYY-MM-DD to a
// holiday name.
type Fetcher struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewFetcher(url string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{client: &http.Client{}, url: url, timeout: timeout}
}

// Fetch returns the holiday table. Entries whose key is not a calendar date
// are skipped.
func (f *Fetcher) Fetch(ctx context.Context) (model.HolidayMap, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("holidays: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holidays: http status %s", resp.Status)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("holidays: decode: %w", err)
	}
	out := make(model.HolidayMap, len(raw))
	for date, name := range raw {
		if _, err := time.Parse(model.DateLayout, date); err != nil {
			continue
		}
		out[date] = name
	}
	return out, nil
}

// cached is the stored form. The holiday map is nested because the cache
// adds a timestamp field at the top level.
type cached struct {
	Holidays model.HolidayMap `json:"holidays"`
}

// Service serves the holiday table from the cache and refreshes it in the
// background.
type Service struct {
	fetcher *Fetcher
	cache   *cache.Cache
	group   singleflight.Group
}

func NewService(f *Fetcher, c *cache.Cache) *Service {
	return &Service{fetcher: f, cache: c}
}

// Cached returns the stored table if it is still fresh.
func (s *Service) Cached() (model.HolidayMap, bool) {
	var v cached
	if _, ok := s.cache.Get(cache.Holidays, &v); !ok {
		return nil, false
	}
	if v.Holidays == nil {
		v.Holidays = model.HolidayMap{}
	}
	return v.Holidays, true
}

// Refresh fetches and stores a new table.
func (s *Service) Refresh(ctx context.Context) (model.HolidayMap, error) {
	v, err, _ := s.group.Do("holidays", func() (any, error) {
		h, err := s.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(cache.Holidays, cached{Holidays: h}); err != nil {
			appLog.Error("holiday cache set failed", err)
		}
		appLog.Debug("holidays refreshed", "count", len(h))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.HolidayMap), nil
}

// Current returns the cached table and revalidates it in the background. With
// nothing cached it fetches synchronously; a failed fetch yields an empty map
// so the month grid still renders.
func (s *Service) Current(ctx context.Context) model.HolidayMap {
	if h, ok := s.Cached(); ok {
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), 2*s.fetcher.timeout)
			defer cancel()
			if _, err := s.Refresh(bg); err != nil {
				appLog.Warn("holiday revalidate failed", err)
			}
		}()
		return h
	}
	h, err := s.Refresh(ctx)
	if err != nil {
		appLog.Warn("holiday fetch failed", err)
		return model.HolidayMap{}
	}
	return h
}
