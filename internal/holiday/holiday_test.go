package holiday

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"startpage/internal/cache"
	"startpage/internal/store"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"2024-02-11":"建国記念の日","2024-02-12":"休日 建国記念の日","bogus":"x"}`))
	}))
	defer srv.Close()

	h, err := NewFetcher(srv.URL, time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("len = %d, want 2 (%v)", len(h), h)
	}
	if got := h.Name(time.Date(2024, 2, 11, 9, 0, 0, 0, time.UTC)); got != "建国記念の日" {
		t.Errorf("Name = %q", got)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewFetcher(srv.URL, time.Second).Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestServiceCurrent(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"2024-01-01":"元日"}`))
	}))
	defer srv.Close()

	svc := NewService(NewFetcher(srv.URL, time.Second), cache.New(store.NewMemory()))

	h := svc.Current(context.Background())
	if h["2024-01-01"] != "元日" {
		t.Fatalf("Current = %v", h)
	}
	cachedMap, ok := svc.Cached()
	if !ok || cachedMap["2024-01-01"] != "元日" {
		t.Fatalf("Cached = %v, %v", cachedMap, ok)
	}

	empty := NewService(NewFetcher(srv.URL, time.Second), cache.New(store.NewMemory()))
	fail.Store(true)
	if got := empty.Current(context.Background()); len(got) != 0 {
		t.Errorf("failed fetch should yield an empty map, got %v", got)
	}
}
