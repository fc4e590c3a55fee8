package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/conductor-ai/conductor/internal/store"
	"github.com/conductor-ai/conductor/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Run CRUD ───────────────────────────────────────────────

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.Run{
		ID:        "run-1",
		Goal:      "summarize the week",
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Goal != "summarize the week" {
		t.Errorf("GetRun().Goal = %q, want %q", got.Goal, "summarize the week")
	}
	if got.Status != models.RunRunning {
		t.Errorf("GetRun().Status = %q, want %q", got.Status, models.RunRunning)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	if err == nil {
		t.Fatal("GetRun() for missing run should return error, got nil")
	}
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Errorf("GetRun() error = %T, want *store.ErrNotFound", err)
	}
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateRun(ctx, &models.Run{ID: "upd", Status: models.RunRunning, StartedAt: time.Now().UTC()})

	if err := s.UpdateRun(ctx, &models.Run{ID: "upd", Status: models.RunSuccess}); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	got, _ := s.GetRun(ctx, "upd")
	if got.Status != models.RunSuccess {
		t.Errorf("After update, Status = %q, want %q", got.Status, models.RunSuccess)
	}
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateRun(context.Background(), &models.Run{ID: "ghost"})
	if err == nil {
		t.Error("UpdateRun() for unknown run should return error, got nil")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.CreateRun(ctx, &models.Run{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns() returned %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("ListRuns()[0].ID = %q, want newest run-2", runs[0].ID)
	}
}

// ─── Trace lifecycle ────────────────────────────────────────

func TestTraceAppendAndFinalize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trace := &models.Trace{
		ID:        "trace-1",
		RunID:     "run-1",
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateTrace(ctx, trace); err != nil {
		t.Fatalf("CreateTrace() error = %v", err)
	}

	for i := 1; i <= 2; i++ {
		err := s.AppendSpan(ctx, "trace-1", models.Span{
			ID:      fmt.Sprintf("span-%d", i),
			TraceID: "trace-1",
			Ordinal: i,
			Status:  models.StepSuccess,
		})
		if err != nil {
			t.Fatalf("AppendSpan(%d) error = %v", i, err)
		}
	}

	if err := s.FinalizeTrace(ctx, &models.Trace{ID: "trace-1", Status: models.RunSuccess}); err != nil {
		t.Fatalf("FinalizeTrace() error = %v", err)
	}

	got, err := s.GetTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetTrace() error = %v", err)
	}
	if len(got.Spans) != 2 {
		t.Errorf("GetTrace().Spans = %d, want 2", len(got.Spans))
	}
	if got.Status != models.RunSuccess {
		t.Errorf("GetTrace().Status = %q, want %q", got.Status, models.RunSuccess)
	}
	if got.CompletedAt == nil {
		t.Error("GetTrace().CompletedAt = nil after finalize")
	}
}

func TestFinalizeTrace_Once(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateTrace(ctx, &models.Trace{ID: "t", Status: models.RunRunning, StartedAt: time.Now().UTC()})

	if err := s.FinalizeTrace(ctx, &models.Trace{ID: "t", Status: models.RunSuccess}); err != nil {
		t.Fatalf("first FinalizeTrace() error = %v", err)
	}

	err := s.FinalizeTrace(ctx, &models.Trace{ID: "t", Status: models.RunFailed})
	if err == nil {
		t.Fatal("second FinalizeTrace() should fail, got nil")
	}
	if _, ok := err.(*store.ErrFinalized); !ok {
		t.Errorf("second FinalizeTrace() error = %T, want *store.ErrFinalized", err)
	}

	// Status from the rejected second finalize must not leak through.
	got, _ := s.GetTrace(ctx, "t")
	if got.Status != models.RunSuccess {
		t.Errorf("Status after double finalize = %q, want %q", got.Status, models.RunSuccess)
	}
}

func TestAppendSpan_UnknownTrace(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendSpan(context.Background(), "nope", models.Span{ID: "s"})
	if err == nil {
		t.Error("AppendSpan() to unknown trace should return error, got nil")
	}
}

func TestTraceRetention(t *testing.T) {
	s := store.NewMemoryStoreWithRetention(3)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("trace-%d", i)
		s.CreateTrace(ctx, &models.Trace{ID: id, StartedAt: base.Add(time.Duration(i) * time.Second)})
		s.FinalizeTrace(ctx, &models.Trace{ID: id, Status: models.RunSuccess})
	}

	traces, err := s.ListTraces(ctx, 0)
	if err != nil {
		t.Fatalf("ListTraces() error = %v", err)
	}
	if len(traces) > 3 {
		t.Errorf("ListTraces() returned %d traces, retention cap is 3", len(traces))
	}

	// The oldest traces are the ones evicted.
	if _, err := s.GetTrace(ctx, "trace-0"); err == nil {
		t.Error("oldest trace should have been evicted")
	}
	if _, err := s.GetTrace(ctx, "trace-4"); err != nil {
		t.Errorf("newest trace should survive eviction, got error %v", err)
	}
}
