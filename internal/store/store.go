// Package store provides the ephemeral storage interface for the
// Conductor core. All state here is run-scoped and in-memory: runs and
// traces are kept only so they can be inspected over the API while the
// process lives. There is no durable persistence.
package store

import (
	"context"

	"github.com/conductor-ai/conductor/pkg/models"
)

// Store is the storage interface handlers and the execution engine
// depend on, making it easy to swap implementations in tests.
type Store interface {
	RunStore
	TraceStore

	// Close releases all resources held by the store.
	Close() error
}

// ── Run Store ───────────────────────────────────────────────

type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
}

// ── Trace Store ─────────────────────────────────────────────

type TraceStore interface {
	ListTraces(ctx context.Context, limit int) ([]models.Trace, error)
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	CreateTrace(ctx context.Context, trace *models.Trace) error

	// AppendSpan adds a span to an existing trace.
	AppendSpan(ctx context.Context, traceID string, span models.Span) error

	// FinalizeTrace sets the trace's terminal status and timestamps.
	// A trace can be finalized at most once; later calls are rejected.
	FinalizeTrace(ctx context.Context, trace *models.Trace) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrFinalized is returned when a trace is finalized more than once.
type ErrFinalized struct {
	TraceID string
}

func (e *ErrFinalized) Error() string {
	return "trace already finalized: " + e.TraceID
}
