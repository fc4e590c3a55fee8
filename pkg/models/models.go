// Package models defines the shared data model for the Conductor
// orchestration core: capabilities, plans, gaps, runs, and traces.
package models

import (
	"fmt"
	"time"
)

// ── Capability & Snapshot ────────────────────────────────────

// Capability is an independently invocable unit of work registered in
// the external catalog. The record is immutable from the core's
// perspective; planning only ever reads a point-in-time Snapshot.
type Capability struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	Endpoint     string         `json:"endpoint"`
}

// Snapshot is an immutable point-in-time view of the capability catalog.
// The external registration process swaps whole snapshots; the core
// never mutates one in place, so snapshots are safe to share across
// concurrent runs without locking.
type Snapshot struct {
	Capabilities []Capability `json:"capabilities"`
	TakenAt      time.Time    `json:"taken_at"`
}

// Lookup returns the capability with the given name, or false.
func (s Snapshot) Lookup(name string) (Capability, bool) {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// Names returns all capability names in snapshot order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Capabilities))
	for _, c := range s.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// Validate checks the snapshot invariant: capability names are unique
// and every capability carries a name and endpoint.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Capabilities))
	for _, c := range s.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("capability with empty name")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("capability %q has no endpoint", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate capability name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// ── Plan ─────────────────────────────────────────────────────

// PlanStep is one ordered capability invocation within a plan.
// Steps are immutable once a plan has been selected.
type PlanStep struct {
	// Ordinal is 1-based and strictly ascending within a plan.
	Ordinal    int     `json:"ordinal"`
	Capability string  `json:"capability"`
	Task       string  `json:"task"`
	Confidence float64 `json:"confidence"` // ∈ [0,1]
}

// ScoreBreakdown records the weighted components of a candidate's score.
type ScoreBreakdown struct {
	Coverage      float64 `json:"coverage"`
	Efficiency    float64 `json:"efficiency"`
	Composability float64 `json:"composability"`
}

// Plan is one candidate decomposition of a goal. Exactly one candidate
// is selected per run.
type Plan struct {
	Steps    []PlanStep `json:"steps"`
	Coverage float64    `json:"coverage"` // ∈ [0,1]

	// StrategyIndex identifies the directive that produced this
	// candidate; ties in score resolve to the lowest index.
	StrategyIndex int    `json:"strategy_index"`
	Strategy      string `json:"strategy,omitempty"`

	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`

	// Degraded marks a candidate whose oracle call failed or returned
	// invalid output; it scores with coverage 0 and no steps.
	Degraded bool `json:"degraded,omitempty"`

	// Executable is false when the selected plan's coverage fell below
	// the configured minimum and the caller should not execute it.
	Executable bool `json:"executable"`
}

// ── Gaps ─────────────────────────────────────────────────────

// ImplementationHints accompany a synthesized capability specification.
type ImplementationHints struct {
	SuggestedLibraries []string `json:"suggested_libraries,omitempty"`
	Complexity         string   `json:"complexity,omitempty"` // low|medium|high
	EstimatedEffort    string   `json:"estimated_effort,omitempty"`
}

// CapabilitySpec is a synthesized specification for a capability that
// does not yet exist, proposed to fill a gap.
type CapabilitySpec struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	InputSchema  map[string]any      `json:"input_schema,omitempty"`
	OutputSchema map[string]any      `json:"output_schema,omitempty"`
	Hints        ImplementationHints `json:"implementation_hints"`
}

// Gap pairs an unmet requirement with an optional synthesized
// specification. Spec is nil when synthesis failed or was skipped.
type Gap struct {
	Requirement string          `json:"requirement"`
	Spec        *CapabilitySpec `json:"spec,omitempty"`
}

// ── Execution ────────────────────────────────────────────────

// ExecutionContext accumulates completed step outputs, keyed
// "step_<ordinal>". It starts empty, grows append-only as steps
// complete, and is scoped to a single run.
type ExecutionContext map[string]any

// StepKey returns the context key for a step ordinal.
func StepKey(ordinal int) string {
	return fmt.Sprintf("step_%d", ordinal)
}

// Clone returns a shallow copy so callers can hand the context to an
// invocation payload without racing later appends.
func (c ExecutionContext) Clone() ExecutionContext {
	out := make(ExecutionContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StepStatus is the terminal state of a single step execution.
type StepStatus string

const (
	StepSuccess  StepStatus = "success"
	StepFailed   StepStatus = "failed"
	StepCanceled StepStatus = "canceled"
)

// ErrorClass categorizes an invocation failure for the retry state
// machine and for span attribution.
type ErrorClass string

const (
	ErrClassNone         ErrorClass = ""
	ErrClassRetryable    ErrorClass = "retryable"     // connection, timeout, 5xx
	ErrClassNonRetryable ErrorClass = "non_retryable" // 4xx, malformed response
	ErrClassCanceled     ErrorClass = "canceled"
)

// StepResult records the outcome of one executed plan step.
type StepResult struct {
	Ordinal    int        `json:"ordinal"`
	Capability string     `json:"capability"`
	Task       string     `json:"task"`
	Status     StepStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	DurationMs int64      `json:"duration_ms"`

	// BackoffsMs records the delay applied before each retry attempt,
	// in order. Empty when the first attempt settled the step.
	BackoffsMs []int64 `json:"backoffs_ms,omitempty"`

	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// RunStatus is the overall state of a workflow run.
type RunStatus string

const (
	RunPlanning RunStatus = "planning"
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// Run is the full record of one workflow run: the goal, the selected
// plan and gaps, per-step results, and the final context. All run state
// is ephemeral; it lives only as long as the process.
type Run struct {
	ID     string    `json:"id"`
	Goal   string    `json:"goal"`
	Status RunStatus `json:"status"`

	Plan *Plan `json:"plan,omitempty"`
	Gaps []Gap `json:"gaps,omitempty"`

	// FailedStep is the ordinal of the step the run failed at, 0 if none.
	FailedStep int `json:"failed_step,omitempty"`

	StepResults []StepResult     `json:"step_results,omitempty"`
	Context     ExecutionContext `json:"context,omitempty"`

	TraceID     string     `json:"trace_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// ── Tracing ──────────────────────────────────────────────────

// Span is one timed record of a single step's execution within a trace.
type Span struct {
	ID         string     `json:"id"`
	TraceID    string     `json:"trace_id"`
	Ordinal    int        `json:"ordinal"`
	Capability string     `json:"capability"`
	Status     StepStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	DurationMs int64      `json:"duration_ms"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
}

// Trace is the write-once record of one run's execution. It is
// allocated before the first step executes and finalized exactly once
// with the run's overall status.
type Trace struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Goal        string     `json:"goal,omitempty"`
	Status      RunStatus  `json:"status"`
	Spans       []Span     `json:"spans"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}
