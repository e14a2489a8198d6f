package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"startpage/internal/cache"
	"startpage/internal/config"
	appLog "startpage/internal/log"
	"startpage/internal/model"
)

// Condition is the display form of a WMO weather code.
type Condition struct {
	Icon string `json:"icon"`
	Desc string `json:"desc"`
}

var conditions = map[int]Condition{
	0:  {"☀️", "快晴"},
	1:  {"🌤️", "晴れ"},
	2:  {"⛅", "曇りがち"},
	3:  {"☁️", "曇り"},
	45: {"🌫️", "霧"},
	48: {"🌫️", "霧氷"},
	51: {"🌧️", "小雨"},
	53: {"🌧️", "雨"},
	55: {"🌧️", "強い雨"},
	61: {"🌧️", "小雨"},
	63: {"🌧️", "雨"},
	65: {"🌧️", "強い雨"},
	71: {"🌨️", "小雪"},
	73: {"🌨️", "雪"},
	75: {"🌨️", "大雪"},
	80: {"🌦️", "にわか雨"},
	81: {"🌦️", "にわか雨"},
	82: {"⛈️", "激しいにわか雨"},
	95: {"⛈️", "雷雨"},
	96: {"⛈️", "雷雨（雹）"},
	99: {"⛈️", "激しい雷雨（雹）"},
}

// Describe maps a weather code to its icon and description. Unknown codes
// get a thermometer and no description.
func Describe(code int) Condition {
	if c, ok := conditions[code]; ok {
		return c
	}
	return Condition{Icon: "🌡️"}
}

// Position is a latitude/longitude pair.
type Position struct {
	Lat float64
	Lon float64
}

const userAgent = "startpage/0.1 (+https://github.com/startpage)"

// Fetcher talks to the forecast and reverse-geocoding endpoints.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	forecastURL string
	geocodeURL  string
	language    string
}

// NewFetcher creates a Fetcher. timeout bounds each request individually.
func NewFetcher(cfg config.WeatherConfig, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:      &http.Client{},
		timeout:     timeout,
		forecastURL: cfg.ForecastURL,
		geocodeURL:  cfg.GeocodeURL,
		language:    cfg.Language,
	}
}

// Fetch runs the forecast and reverse-geocode calls in parallel. A failed
// geocode only drops the place name; a failed forecast fails the fetch.
func (f *Fetcher) Fetch(ctx context.Context, pos Position) (model.Weather, error) {
	var (
		g        errgroup.Group
		out      model.Weather
		forecast error
	)

	g.Go(func() error {
		temp, code, err := f.forecast(ctx, pos)
		if err != nil {
			forecast = err
			return nil
		}
		out.Temp = temp
		out.Code = code
		return nil
	})
	var place string
	g.Go(func() error {
		name, err := f.placeName(ctx, pos)
		if err != nil {
			appLog.Warn("reverse geocode failed", err)
			return nil
		}
		place = name
		return nil
	})
	_ = g.Wait()

	if forecast != nil {
		return model.Weather{}, forecast
	}
	out.LocationName = place
	out.Lat, out.Lon = pos.Lat, pos.Lon
	return out, nil
}

type forecastResponse struct {
	Current *struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

func (f *Fetcher) forecast(ctx context.Context, pos Position) (int, int, error) {
	q := url.Values{}
	q.Set("latitude", formatCoord(pos.Lat))
	q.Set("longitude", formatCoord(pos.Lon))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("timezone", "auto")

	var resp forecastResponse
	if err := f.getJSON(ctx, f.forecastURL+"?"+q.Encode(), &resp); err != nil {
		return 0, 0, fmt.Errorf("forecast: %w", err)
	}
	if resp.Current == nil {
		return 0, 0, errors.New("forecast: response has no current conditions")
	}
	return int(math.Round(resp.Current.Temperature)), resp.Current.WeatherCode, nil
}

type geocodeResponse struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
	} `json:"address"`
}

func (f *Fetcher) placeName(ctx context.Context, pos Position) (string, error) {
	q := url.Values{}
	q.Set("lat", formatCoord(pos.Lat))
	q.Set("lon", formatCoord(pos.Lon))
	q.Set("format", "json")
	if f.language != "" {
		q.Set("accept-language", f.language)
	}

	var resp geocodeResponse
	if err := f.getJSON(ctx, f.geocodeURL+"?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("geocode: %w", err)
	}
	a := resp.Address
	for _, s := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if s != "" {
			return s, nil
		}
	}
	return "", nil
}

func (f *Fetcher) getJSON(ctx context.Context, u string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func (p Position) key() string { return formatCoord(p.Lat) + "," + formatCoord(p.Lon) }

// Service combines the fetcher with the cache: Current answers from the
// cache immediately and revalidates in the background.
type Service struct {
	fetcher  *Fetcher
	cache    *cache.Cache
	fallback Position
	group    singleflight.Group

	mu   sync.Mutex
	last *Position
}

// NewService creates a weather Service; fallback is used until a position
// has been requested.
func NewService(f *Fetcher, c *cache.Cache, fallback Position) *Service {
	return &Service{fetcher: f, cache: c, fallback: fallback}
}

// Cached returns the cached snapshot if it is still fresh.
func (s *Service) Cached() (model.Weather, bool) {
	var w model.Weather
	_, ok := s.cache.Get(cache.Weather, &w)
	return w, ok
}

// position resolves pos. Without one, the last position that was fetched is
// reused: the one in memory, then the one in the cached snapshot, then the
// fallback.
func (s *Service) position(pos *Position) Position {
	if pos != nil {
		return *pos
	}
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		return *last
	}
	if w, ok := s.Cached(); ok {
		return Position{Lat: w.Lat, Lon: w.Lon}
	}
	return s.fallback
}

// Refresh fetches and stores a new snapshot. Concurrent refreshes for the
// same position share one upstream round trip. A nil pos refreshes the last
// fetched position.
func (s *Service) Refresh(ctx context.Context, pos *Position) (model.Weather, error) {
	p := s.position(pos)
	v, err, _ := s.group.Do(p.key(), func() (any, error) {
		w, err := s.fetcher.Fetch(ctx, p)
		if err != nil {
			return model.Weather{}, err
		}
		s.mu.Lock()
		s.last = &p
		s.mu.Unlock()
		if err := s.cache.Set(cache.Weather, w); err != nil {
			appLog.Error("weather cache set failed", err)
		}
		return w, nil
	})
	if err != nil {
		return model.Weather{}, err
	}
	return v.(model.Weather), nil
}

// Current returns the cached snapshot and revalidates it in the background.
// A snapshot for a different position than pos does not count; with no
// usable cache it fetches synchronously.
func (s *Service) Current(ctx context.Context, pos *Position) (model.Weather, error) {
	if w, ok := s.Cached(); ok && (pos == nil || pos.key() == (Position{Lat: w.Lat, Lon: w.Lon}).key()) {
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), 2*s.fetcher.timeout)
			defer cancel()
			if _, err := s.Refresh(bg, pos); err != nil {
				appLog.Warn("weather revalidate failed", err)
			}
		}()
		return w, nil
	}
	return s.Refresh(ctx, pos)
}
