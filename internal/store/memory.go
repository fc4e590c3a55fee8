package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/pkg/models"
)

// DefaultRetainTraces caps how many finalized traces are kept when no
// explicit limit is configured.
const DefaultRetainTraces = 100

// MemoryStore is the in-memory Store implementation. Runs and traces
// are held in maps behind a RWMutex; finalized traces beyond the
// retention cap are evicted oldest-first.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*models.Run
	traces map[string]*models.Trace

	retainTraces int
}

// NewMemoryStore creates an empty in-memory store with the default
// trace retention cap.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithRetention(DefaultRetainTraces)
}

// NewMemoryStoreWithRetention creates a store keeping at most retain
// finalized traces (0 or negative means the default).
func NewMemoryStoreWithRetention(retain int) *MemoryStore {
	if retain <= 0 {
		retain = DefaultRetainTraces
	}
	return &MemoryStore{
		runs:         make(map[string]*models.Run),
		traces:       make(map[string]*models.Trace),
		retainTraces: retain,
	}
}

// Close releases nothing for the memory store; it exists to satisfy Store.
func (s *MemoryStore) Close() error { return nil }

// ── Runs ────────────────────────────────────────────────────

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]models.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "run", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return &ErrNotFound{Entity: "run", Key: run.ID}
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// ── Traces ──────────────────────────────────────────────────

func (s *MemoryStore) ListTraces(ctx context.Context, limit int) ([]models.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traces := make([]models.Trace, 0, len(s.traces))
	for _, t := range s.traces {
		traces = append(traces, *t)
	}
	sort.Slice(traces, func(i, j int) bool {
		return traces[i].StartedAt.After(traces[j].StartedAt)
	})
	if limit > 0 && len(traces) > limit {
		traces = traces[:limit]
	}
	return traces, nil
}

func (s *MemoryStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "trace", Key: id}
	}
	cp := *t
	cp.Spans = append([]models.Span(nil), t.Spans...)
	return &cp, nil
}

func (s *MemoryStore) CreateTrace(ctx context.Context, trace *models.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *trace
	cp.Spans = append([]models.Span(nil), trace.Spans...)
	s.traces[trace.ID] = &cp
	s.evictLocked()
	return nil
}

func (s *MemoryStore) AppendSpan(ctx context.Context, traceID string, span models.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[traceID]
	if !ok {
		return &ErrNotFound{Entity: "trace", Key: traceID}
	}
	t.Spans = append(t.Spans, span)
	return nil
}

func (s *MemoryStore) FinalizeTrace(ctx context.Context, trace *models.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.traces[trace.ID]
	if !ok {
		return &ErrNotFound{Entity: "trace", Key: trace.ID}
	}
	if t.CompletedAt != nil {
		return &ErrFinalized{TraceID: trace.ID}
	}
	t.Status = trace.Status
	now := time.Now().UTC()
	if trace.CompletedAt != nil {
		now = *trace.CompletedAt
	}
	t.CompletedAt = &now
	t.DurationMs = now.Sub(t.StartedAt).Milliseconds()
	return nil
}

// evictLocked drops the oldest finalized traces once the retention cap
// is exceeded. Active (unfinalized) traces are never evicted.
func (s *MemoryStore) evictLocked() {
	if len(s.traces) <= s.retainTraces {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var finalized []aged
	for id, t := range s.traces {
		if t.CompletedAt != nil {
			finalized = append(finalized, aged{id: id, at: t.StartedAt})
		}
	}
	sort.Slice(finalized, func(i, j int) bool {
		return finalized[i].at.Before(finalized[j].at)
	})
	excess := len(s.traces) - s.retainTraces
	for i := 0; i < excess && i < len(finalized); i++ {
		delete(s.traces, finalized[i].id)
	}
}
