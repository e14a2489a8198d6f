package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"startpage/internal/cache"
	"startpage/internal/config"
	"startpage/internal/model"
	"startpage/internal/store"
)

func newUpstream(t *testing.T, geocodeStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var forecastCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		forecastCalls.Add(1)
		if r.URL.Query().Get("current") != "temperature_2m,weather_code" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":12.6,"weather_code":61}}`))
	})
	mux.HandleFunc("/reverse", func(w http.ResponseWriter, r *http.Request) {
		if geocodeStatus != http.StatusOK {
			http.Error(w, "nope", geocodeStatus)
			return
		}
		if r.URL.Query().Get("accept-language") != "ja" {
			http.Error(w, "missing language", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"address":{"town":"鎌倉市","village":"ignored"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &forecastCalls
}

func newFetcher(srv *httptest.Server) *Fetcher {
	return NewFetcher(config.WeatherConfig{
		ForecastURL: srv.URL + "/v1/forecast",
		GeocodeURL:  srv.URL + "/reverse",
		Language:    "ja",
	}, 5*time.Second)
}

func TestFetch(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusOK)
	w, err := newFetcher(srv).Fetch(context.Background(), Position{Lat: 35.3, Lon: 139.5})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if w.Temp != 13 || w.Code != 61 || w.LocationName != "鎌倉市" {
		t.Errorf("got %+v", w)
	}
}

func TestFetchGeocodeFailureDegrades(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusTooManyRequests)
	w, err := newFetcher(srv).Fetch(context.Background(), Position{})
	if err != nil {
		t.Fatalf("geocode failure must not fail the fetch: %v", err)
	}
	if w.LocationName != "" || w.Temp != 13 {
		t.Errorf("got %+v", w)
	}
}

func TestFetchForecastFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newFetcher(srv).Fetch(context.Background(), Position{}); err == nil {
		t.Fatal("expected forecast error")
	}
}

func TestServiceCurrentUsesCache(t *testing.T) {
	srv, calls := newUpstream(t, http.StatusOK)
	c := cache.New(store.NewMemory())
	svc := NewService(newFetcher(srv), c, Position{Lat: 1, Lon: 2})

	w, err := svc.Current(context.Background(), nil)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if w.Temp != 13 {
		t.Fatalf("got %+v", w)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one synchronous fetch, got %d", calls.Load())
	}

	cached, ok := svc.Cached()
	if !ok || cached != w {
		t.Fatalf("cached = %+v, ok=%v", cached, ok)
	}

	// Second call answers from the cache and revalidates in the background.
	if _, err := svc.Current(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Error("background revalidation did not run")
	}
	c.Wait()
}

// newPositionUpstream reports the requested latitude as the temperature.
// Forecasts are slowed down so concurrent refreshes overlap.
func newPositionUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
		lat := r.URL.Query().Get("latitude")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":` + lat + `,"weather_code":0}}`))
	})
	mux.HandleFunc("/reverse", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"city":"lat` + r.URL.Query().Get("lat") + `"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestServiceKeepsPositionsApart(t *testing.T) {
	srv, calls := newPositionUpstream(t)
	c := cache.New(store.NewMemory())
	svc := NewService(newFetcher(srv), c, Position{Lat: 1, Lon: 1})
	ctx := context.Background()

	w, err := svc.Current(ctx, nil)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if w.Temp != 1 || w.Lat != 1 {
		t.Fatalf("fallback weather = %+v", w)
	}

	// A snapshot for another position is not served for this one.
	w, err = svc.Current(ctx, &Position{Lat: 3, Lon: 4})
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if w.Temp != 3 || w.Lat != 3 || w.Lon != 4 {
		t.Fatalf("weather for 3,4 = %+v", w)
	}
	if calls.Load() != 2 {
		t.Fatalf("forecast calls = %d, want 2", calls.Load())
	}

	// A scheduled refresh keeps the last requested position.
	w, err = svc.Refresh(ctx, nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if w.Temp != 3 {
		t.Errorf("scheduled refresh used %+v, want position 3,4", w)
	}
	if cached, ok := svc.Cached(); !ok || cached.Lat != 3 || cached.Lon != 4 {
		t.Errorf("cached = %+v, ok=%v", cached, ok)
	}

	// Concurrent refreshes for different positions each get their own result.
	positions := []Position{{Lat: 5, Lon: 6}, {Lat: 7, Lon: 8}}
	results := make([]model.Weather, len(positions))
	var wg sync.WaitGroup
	for i, p := range positions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.Refresh(ctx, &p)
		}()
	}
	wg.Wait()
	for i, p := range positions {
		if results[i].Lat != p.Lat || results[i].Temp != int(p.Lat) {
			t.Errorf("refresh for %+v got %+v", p, results[i])
		}
	}
	c.Wait()
}

func TestServiceRestoresPositionFromCache(t *testing.T) {
	srv, _ := newPositionUpstream(t)
	mem := store.NewMemory()
	c := cache.New(mem)
	if _, err := NewService(newFetcher(srv), c, Position{Lat: 1, Lon: 1}).Refresh(context.Background(), &Position{Lat: 9, Lon: 9}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c.Wait()

	// A new service over the same cache picks up the stored position.
	w, err := NewService(newFetcher(srv), c, Position{Lat: 1, Lon: 1}).Refresh(context.Background(), nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if w.Lat != 9 || w.Temp != 9 {
		t.Errorf("got %+v, want position 9,9", w)
	}
	c.Wait()
}

func TestDescribe(t *testing.T) {
	if got := Describe(0); got.Desc != "快晴" {
		t.Errorf("Describe(0) = %+v", got)
	}
	if got := Describe(12345); got.Icon != "🌡️" || got.Desc != "" {
		t.Errorf("unknown code = %+v", got)
	}
}
