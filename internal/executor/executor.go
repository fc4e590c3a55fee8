// Package executor implements the plan execution engine.
//
// The engine consumes exactly one selected plan per run and executes
// its steps strictly in ascending ordinal order, with no parallelism
// across steps, since a step's task may depend on the outputs
// accumulated in the execution context. Each step is invoked with bounded retry and
// exponential backoff; one span per step is delivered to the trace
// sink. A step that fails terminally stops the run and returns every
// previously accumulated output.
//
// Execution flow per step:
//  1. payload = {task, context}
//  2. POST to the capability endpoint (blocking, bounded timeout)
//  3. connection/timeout/5xx → retryable; 4xx → non-retryable
//  4. up to MaxAttempts total attempts, delay base·2^(n−2) before attempt n
//  5. terminal failure → run fails at this step, partial results returned
//  6. success → append {step_ordinal → output} to the context, emit a span
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/internal/store"
	"github.com/conductor-ai/conductor/internal/tracesink"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is the total attempt budget per step.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the base for exponential backoff between attempts.
const DefaultBaseDelay = time.Second

// BackoffDelay returns the delay applied before attempt n (n ≥ 2):
// base · 2^(n−2). With base = 1s that is 1s before attempt 2 and 2s
// before attempt 3.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return base * (1 << (attempt - 2))
}

// Engine executes selected plans against live capability endpoints.
// Each run owns its own context and trace; the engine only shares the
// immutable snapshot across runs, so concurrent runs need no locking
// beyond the runs map itself.
type Engine struct {
	store   store.Store
	invoker Invoker
	sink    tracesink.Sink

	maxAttempts int
	baseDelay   time.Duration

	// Running executions: runID → cancel func
	runsMu sync.RWMutex
	runs   map[string]context.CancelFunc
}

// New creates an execution engine.
func New(s store.Store, inv Invoker, sink tracesink.Sink, cfg config.ExecutorConfig) *Engine {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if sink == nil {
		sink = tracesink.Nop{}
	}
	return &Engine{
		store:       s,
		invoker:     inv,
		sink:        sink,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		runs:        make(map[string]context.CancelFunc),
	}
}

// Start begins async execution of the run's selected plan. The run must
// already hold its plan and be persisted; Start allocates the trace,
// registers the cancel hook, and returns immediately.
func (e *Engine) Start(run *models.Run, snap models.Snapshot) {
	// One trace per run, allocated before the first step executes.
	trace := &models.Trace{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		Goal:      run.Goal,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	run.TraceID = trace.ID
	run.Status = models.RunRunning

	ctx := context.Background()
	if err := e.store.CreateTrace(ctx, trace); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to create trace record")
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to update run before execution")
	}

	execCtx, cancel := context.WithCancel(context.Background())
	e.runsMu.Lock()
	e.runs[run.ID] = cancel
	e.runsMu.Unlock()

	log.Info().
		Str("run_id", run.ID).
		Str("trace_id", trace.ID).
		Int("steps", len(run.Plan.Steps)).
		Msg("run execution started")

	go e.executeAsync(execCtx, run, snap, trace)
}

// Cancel cancels a running execution. The in-flight network call is
// interrupted and no further steps execute; context and step results
// accumulated so far remain on the run as valid, inspectable output.
func (e *Engine) Cancel(runID string) bool {
	e.runsMu.Lock()
	cancel, ok := e.runs[runID]
	if ok {
		cancel()
		delete(e.runs, runID)
	}
	e.runsMu.Unlock()
	return ok
}

func (e *Engine) executeAsync(ctx context.Context, run *models.Run, snap models.Snapshot, trace *models.Trace) {
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, run.ID)
		e.runsMu.Unlock()
	}()

	e.Execute(ctx, run, snap, trace)

	if err := e.store.UpdateRun(context.Background(), run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist finished run")
	}
}

// Execute runs the plan's steps in order, mutating the run in place
// with step results, context, and final status. It finalizes the trace
// exactly once before returning.
func (e *Engine) Execute(ctx context.Context, run *models.Run, snap models.Snapshot, trace *models.Trace) {
	execContext := make(models.ExecutionContext)
	run.Context = execContext

	status := models.RunSuccess

	for _, step := range run.Plan.Steps {
		capability, ok := snap.Lookup(step.Capability)
		if !ok {
			// Guarded at planning time; a miss here means the plan and
			// snapshot are out of sync.
			result := models.StepResult{
				Ordinal:    step.Ordinal,
				Capability: step.Capability,
				Task:       step.Task,
				Status:     models.StepFailed,
				Attempts:   0,
				Error:      "capability not in snapshot",
				ErrorClass: models.ErrClassNonRetryable,
			}
			run.StepResults = append(run.StepResults, result)
			run.FailedStep = step.Ordinal
			run.Error = result.Error
			status = models.RunFailed
			break
		}

		result, output := e.executeStep(ctx, trace.ID, step, capability, execContext)
		run.StepResults = append(run.StepResults, result)

		if result.Status != models.StepSuccess {
			run.FailedStep = step.Ordinal
			run.Error = result.Error
			if result.Status == models.StepCanceled {
				status = models.RunCanceled
			} else {
				status = models.RunFailed
			}
			break
		}

		// Context grows append-only, only after the step completed:
		// after step k it holds exactly the outputs of steps 1..k.
		execContext[models.StepKey(step.Ordinal)] = output
	}

	e.finishRun(run, trace, status)
}

// executeStep drives the retry state machine for one step:
//
//	Attempt(n) → Success
//	           | RetryableFailure → Attempt(n+1)   (delay base·2^(n−1))
//	           | NonRetryableFailure → Aborted
//
// terminal at n = maxAttempts. Implemented as an explicit bounded loop
// so cancellation and timeout are checked every iteration.
func (e *Engine) executeStep(ctx context.Context, traceID string, step models.PlanStep, capability models.Capability, execContext models.ExecutionContext) (models.StepResult, any) {
	result := models.StepResult{
		Ordinal:    step.Ordinal,
		Capability: step.Capability,
		Task:       step.Task,
	}

	payload := InvocationPayload{
		Task:    step.Task,
		Context: execContext.Clone(),
	}

	start := time.Now()
	var output any
	var lastErr *InvocationError

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := BackoffDelay(e.baseDelay, attempt)
			result.BackoffsMs = append(result.BackoffsMs, delay.Milliseconds())
			log.Info().
				Str("capability", step.Capability).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying step")

			select {
			case <-ctx.Done():
				result.Status = models.StepCanceled
				result.ErrorClass = models.ErrClassCanceled
				result.Error = ctx.Err().Error()
				result.Attempts = attempt - 1
				result.DurationMs = time.Since(start).Milliseconds()
				e.emitSpan(traceID, step, result, start)
				return result, nil
			case <-time.After(delay):
			}
		}

		out, err := e.invoker.Invoke(ctx, capability, payload)
		if err == nil {
			output = out
			result.Status = models.StepSuccess
			result.Attempts = attempt
			result.Output = out
			result.DurationMs = time.Since(start).Milliseconds()

			log.Info().
				Str("capability", step.Capability).
				Int("ordinal", step.Ordinal).
				Int("attempts", attempt).
				Int64("duration_ms", result.DurationMs).
				Msg("step completed")

			e.emitSpan(traceID, step, result, start)
			return result, output
		}

		invErr, ok := err.(*InvocationError)
		if !ok {
			invErr = &InvocationError{Capability: step.Capability, Class: models.ErrClassNonRetryable, Err: err}
		}
		lastErr = invErr
		result.Attempts = attempt

		if invErr.Class == models.ErrClassCanceled {
			result.Status = models.StepCanceled
			result.ErrorClass = models.ErrClassCanceled
			result.Error = invErr.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			e.emitSpan(traceID, step, result, start)
			return result, nil
		}

		// Non-retryable failures short-circuit with zero extra attempts.
		if !invErr.Retryable() {
			break
		}

		log.Warn().
			Err(invErr).
			Str("capability", step.Capability).
			Int("attempt", attempt).
			Msg("step attempt failed")
	}

	result.Status = models.StepFailed
	result.Error = lastErr.Error()
	result.ErrorClass = lastErr.Class
	result.DurationMs = time.Since(start).Milliseconds()

	log.Error().
		Err(lastErr).
		Str("capability", step.Capability).
		Int("attempts", result.Attempts).
		Msg("step failed")

	e.emitSpan(traceID, step, result, start)
	return result, nil
}

// emitSpan delivers exactly one span for the step. Delivery is
// best-effort; the sink swallows its own failures.
func (e *Engine) emitSpan(traceID string, step models.PlanStep, result models.StepResult, start time.Time) {
	e.sink.RecordSpan(context.Background(), models.Span{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		Ordinal:    step.Ordinal,
		Capability: step.Capability,
		Status:     result.Status,
		Attempts:   result.Attempts,
		DurationMs: result.DurationMs,
		ErrorClass: result.ErrorClass,
		StartedAt:  start.UTC(),
	})
}

// finishRun stamps the run's terminal state and finalizes the trace
// with the run's overall status, exactly once.
func (e *Engine) finishRun(run *models.Run, trace *models.Trace, status models.RunStatus) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()

	trace.Status = status
	trace.CompletedAt = &now
	e.sink.FinalizeTrace(context.Background(), *trace)

	evt := log.Info()
	if status != models.RunSuccess {
		evt = log.Warn()
	}
	evt.
		Str("run_id", run.ID).
		Str("status", string(status)).
		Int("steps", len(run.StepResults)).
		Int64("duration_ms", run.DurationMs).
		Msg("run finished")
}
