// Package catalog provides the read-only capability snapshot source.
//
// The catalog is a client of the external registry: it fetches the
// registered capability list over HTTP, validates it, and caches the
// parsed snapshot behind an RWMutex. A background goroutine refreshes
// the snapshot on an interval; planning code always works against the
// immutable snapshot value handed out by Snapshot(), so a registry
// refresh never mutates state a running plan can see.
//
// Registration and storage of capabilities is the registry's concern,
// not Conductor's.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// Source produces capability snapshots. Implementations must be safe
// for concurrent use.
type Source interface {
	// Fetch returns a fresh snapshot from the underlying registry.
	Fetch(ctx context.Context) (models.Snapshot, error)
}

// ── HTTP source ─────────────────────────────────────────────

// HTTPSource fetches capabilities from the registry's list endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a registry client for the given base URL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/capabilities", nil)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("create registry request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Snapshot{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var caps []models.Capability
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode registry response: %w", err)
	}

	snap := models.Snapshot{Capabilities: caps, TakenAt: time.Now().UTC()}
	if err := snap.Validate(); err != nil {
		return models.Snapshot{}, fmt.Errorf("invalid registry snapshot: %w", err)
	}
	return snap, nil
}

// ── Static source ───────────────────────────────────────────

// StaticSource serves a fixed capability list. Used in tests and when
// no registry URL is configured.
type StaticSource struct {
	caps []models.Capability
}

func NewStaticSource(caps []models.Capability) *StaticSource {
	return &StaticSource{caps: caps}
}

func (s *StaticSource) Fetch(ctx context.Context) (models.Snapshot, error) {
	snap := models.Snapshot{
		Capabilities: append([]models.Capability(nil), s.caps...),
		TakenAt:      time.Now().UTC(),
	}
	if err := snap.Validate(); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

// ── Catalog ─────────────────────────────────────────────────

// Catalog caches the latest valid snapshot and refreshes it in the
// background. Snapshot() never blocks on the network.
type Catalog struct {
	source   Source
	interval time.Duration

	mu   sync.RWMutex
	snap models.Snapshot

	stopCh  chan struct{}
	stopped sync.Once
	running bool
}

// New creates a catalog over the given source. Call Start to begin
// background refresh.
func New(source Source, refreshInterval time.Duration) *Catalog {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	return &Catalog{
		source:   source,
		interval: refreshInterval,
		stopCh:   make(chan struct{}),
	}
}

// FromConfig builds a catalog from configuration: an HTTP source when a
// registry URL is set, otherwise an empty static source.
func FromConfig(cfg config.CatalogConfig) *Catalog {
	var src Source
	if cfg.RegistryURL != "" {
		src = NewHTTPSource(cfg.RegistryURL, cfg.FetchTimeout)
	} else {
		src = NewStaticSource(nil)
	}
	return New(src, cfg.RefreshInterval)
}

// Start performs an initial fetch and begins the refresh loop.
// A failed initial fetch is logged, not fatal; the catalog serves an
// empty snapshot until a refresh succeeds.
func (c *Catalog) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("catalog: initial fetch failed")
	}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("catalog: refresh failed")
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("refresh_interval", c.interval).Msg("capability catalog started")
}

// Stop halts the background refresh loop.
func (c *Catalog) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
}

// Refresh fetches a fresh snapshot and swaps it in atomically. The
// previous snapshot remains valid for any planning call already
// holding it.
func (c *Catalog) Refresh(ctx context.Context) error {
	snap, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	log.Debug().Int("capabilities", len(snap.Capabilities)).Msg("catalog: snapshot refreshed")
	return nil
}

// Snapshot returns the current point-in-time capability view. The
// returned value is immutable; callers may share it freely.
func (c *Catalog) Snapshot() models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
