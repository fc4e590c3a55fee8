package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// InvocationPayload is the request body sent to a capability endpoint:
// the step's task plus the context accumulated from prior steps.
type InvocationPayload struct {
	Task    string                  `json:"task"`
	Context models.ExecutionContext `json:"context"`
}

// InvocationError classifies a failed capability call for the retry
// state machine: connection errors, timeouts, and 5xx responses are
// retryable; 4xx responses and malformed bodies are not.
type InvocationError struct {
	Capability string
	StatusCode int
	Class      models.ErrorClass
	Err        error
}

func (e *InvocationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("invoke %s: status %d: %v", e.Capability, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("invoke %s: %v", e.Capability, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Retryable reports whether the retry state machine may attempt again.
func (e *InvocationError) Retryable() bool { return e.Class == models.ErrClassRetryable }

// Invoker performs a single blocking capability call.
type Invoker interface {
	Invoke(ctx context.Context, capability models.Capability, payload InvocationPayload) (any, error)
}

// ── HTTP invoker ────────────────────────────────────────────

// HTTPInvoker posts invocation payloads to capability endpoints.
// Response contract: 2xx with {"output": ...} on success, any other
// status with {"error": "..."} on failure.
type HTTPInvoker struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPInvoker creates an invoker with the given per-call timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, capability models.Capability, payload InvocationPayload) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvocationError{Capability: capability.Name, Class: models.ErrClassNonRetryable, Err: err}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, capability.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &InvocationError{Capability: capability.Name, Class: models.ErrClassNonRetryable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.client.Do(req)
	if err != nil {
		// Parent cancellation aborts the run; everything else at the
		// transport level (refused connection, timeout) is retryable.
		if ctx.Err() != nil {
			return nil, &InvocationError{Capability: capability.Name, Class: models.ErrClassCanceled, Err: ctx.Err()}
		}
		return nil, &InvocationError{Capability: capability.Name, Class: models.ErrClassRetryable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		class := models.ErrClassNonRetryable
		if resp.StatusCode >= 500 {
			class = models.ErrClassRetryable
		}
		var errBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &InvocationError{
			Capability: capability.Name,
			StatusCode: resp.StatusCode,
			Class:      class,
			Err:        errors.New(errBody.Error),
		}
	}

	var okBody struct {
		Output any `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&okBody); err != nil {
		return nil, &InvocationError{
			Capability: capability.Name,
			StatusCode: resp.StatusCode,
			Class:      models.ErrClassNonRetryable,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	validateOutput(capability, okBody.Output)
	return okBody.Output, nil
}

// validateOutput best-effort checks the output against the capability's
// declared output schema: required properties must be present when the
// output is an object. Violations are logged, never fatal.
func validateOutput(capability models.Capability, output any) {
	schema := capability.OutputSchema
	if schema == nil {
		return
	}
	required, ok := schema["required"].([]any)
	if !ok || len(required) == 0 {
		return
	}
	obj, ok := output.(map[string]any)
	if !ok {
		log.Warn().Str("capability", capability.Name).Msg("output is not an object but schema declares required properties")
		return
	}
	for _, r := range required {
		key, _ := r.(string)
		if key == "" {
			continue
		}
		if _, present := obj[key]; !present {
			log.Warn().
				Str("capability", capability.Name).
				Str("property", key).
				Msg("output missing required property")
		}
	}
}
