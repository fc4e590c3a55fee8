package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/conductor-ai/conductor/internal/catalog"
	"github.com/conductor-ai/conductor/pkg/models"
)

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capabilities" {
			t.Errorf("path = %q, want /capabilities", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.Capability{
			{Name: "fetch", Description: "fetch a document", Endpoint: "http://caps/fetch"},
			{Name: "summarize", Description: "summarize text", Endpoint: "http://caps/summarize"},
		})
	}))
	t.Cleanup(srv.Close)

	src := catalog.NewHTTPSource(srv.URL, 5*time.Second)
	snap, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(snap.Capabilities) != 2 {
		t.Fatalf("Fetch() returned %d capabilities, want 2", len(snap.Capabilities))
	}
	if _, ok := snap.Lookup("summarize"); !ok {
		t.Error("Lookup(summarize) = false after fetch")
	}
	if snap.TakenAt.IsZero() {
		t.Error("snapshot has no TakenAt timestamp")
	}
}

func TestHTTPSource_RejectsInvalidSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Duplicate name violates the snapshot invariant.
		json.NewEncoder(w).Encode([]models.Capability{
			{Name: "fetch", Endpoint: "http://caps/a"},
			{Name: "fetch", Endpoint: "http://caps/b"},
		})
	}))
	t.Cleanup(srv.Close)

	src := catalog.NewHTTPSource(srv.URL, 5*time.Second)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Error("Fetch() = nil error for a snapshot with duplicate names")
	}
}

func TestHTTPSource_RegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	src := catalog.NewHTTPSource(srv.URL, 5*time.Second)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Error("Fetch() = nil error for a 502 registry response")
	}
}

func TestStaticSource_Validates(t *testing.T) {
	src := catalog.NewStaticSource([]models.Capability{{Name: "broken"}})
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Error("Fetch() = nil error for a capability without endpoint")
	}
}

func TestCatalog_RefreshSwapsSnapshot(t *testing.T) {
	c := catalog.New(catalog.NewStaticSource([]models.Capability{
		{Name: "fetch", Endpoint: "http://caps/fetch"},
	}), time.Hour)

	if got := c.Snapshot(); len(got.Capabilities) != 0 {
		t.Errorf("fresh catalog snapshot has %d capabilities, want 0 before refresh", len(got.Capabilities))
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := c.Snapshot(); len(got.Capabilities) != 1 {
		t.Errorf("snapshot has %d capabilities after refresh, want 1", len(got.Capabilities))
	}
}

func TestCatalog_FailedRefreshKeepsOldSnapshot(t *testing.T) {
	var mu sync.Mutex
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]models.Capability{{Name: "fetch", Endpoint: "http://caps/fetch"}})
	}))
	t.Cleanup(srv.Close)

	c := catalog.New(catalog.NewHTTPSource(srv.URL, 5*time.Second), time.Hour)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() = nil error while the registry is failing")
	}
	if got := c.Snapshot(); len(got.Capabilities) != 1 {
		t.Errorf("snapshot has %d capabilities, the last good snapshot must survive a failed refresh", len(got.Capabilities))
	}
}

func TestCatalog_StartAndStop(t *testing.T) {
	c := catalog.New(catalog.NewStaticSource([]models.Capability{
		{Name: "fetch", Endpoint: "http://caps/fetch"},
	}), 10*time.Millisecond)

	c.Start(context.Background())
	t.Cleanup(c.Stop)

	if got := c.Snapshot(); len(got.Capabilities) != 1 {
		t.Errorf("snapshot has %d capabilities after Start, want initial fetch applied", len(got.Capabilities))
	}

	// Stop twice must not panic.
	c.Stop()
	c.Stop()
}
