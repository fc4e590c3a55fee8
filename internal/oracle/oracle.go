// Package oracle is the HTTP client for the structured reasoning
// service consulted during planning. The oracle is a black box: only
// its request/response contract is in scope here.
//
// Two operations are exposed:
//
//	Decompose:  {goal, capabilities, strategy_directive} →
//	            {steps, coverage, unmet_requirements}
//	Synthesize: {unmet_requirement, plan_context} →
//	            a capability specification for a missing capability
//
// Both are bounded by per-call timeouts. Transport failures map to
// ErrUnavailable; responses that fail contract validation map to
// ErrMalformedOutput. Callers absorb both at their own boundary: a
// bad oracle response degrades one candidate or one gap, never a run.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable marks a decomposition/synthesis call that timed out or
// failed at the transport or HTTP level.
var ErrUnavailable = errors.New("oracle unavailable")

// ErrMalformedOutput marks an oracle response that could not be parsed
// or violated the response contract.
var ErrMalformedOutput = errors.New("malformed oracle output")

// ── Contract types ──────────────────────────────────────────

// DecomposeRequest asks the oracle for one candidate decomposition of a
// goal under a strategy directive.
type DecomposeRequest struct {
	Goal              string              `json:"goal"`
	Capabilities      []models.Capability `json:"capabilities"`
	StrategyDirective string              `json:"strategy_directive"`
}

// DecomposeStep is one step in the oracle's raw decomposition response.
type DecomposeStep struct {
	CapabilityName  string  `json:"capability_name"`
	TaskDescription string  `json:"task_description"`
	Confidence      float64 `json:"confidence"`
}

// DecomposeResponse is the oracle's raw decomposition output, prior to
// validation against the capability snapshot.
type DecomposeResponse struct {
	Steps             []DecomposeStep `json:"steps"`
	Coverage          float64         `json:"coverage"`
	UnmetRequirements []string        `json:"unmet_requirements"`
}

// SynthesizeRequest asks the oracle to specify a capability that would
// fill an unmet requirement, given the selected plan for context.
type SynthesizeRequest struct {
	UnmetRequirement string            `json:"unmet_requirement"`
	PlanContext      []models.PlanStep `json:"plan_context"`
}

// ── Client ──────────────────────────────────────────────────

// Client calls the oracle service over HTTP.
type Client struct {
	baseURL           string
	client            *http.Client
	decomposeTimeout  time.Duration
	synthesizeTimeout time.Duration
}

// NewClient creates an oracle client from configuration.
func NewClient(cfg config.OracleConfig) *Client {
	return &Client{
		baseURL:           cfg.BaseURL,
		client:            &http.Client{},
		decomposeTimeout:  cfg.DecomposeTimeout,
		synthesizeTimeout: cfg.SynthesizeTimeout,
	}
}

// Decompose issues one decomposition request. The call is read-only and
// independent of any other decomposition call, so callers may fan out
// several concurrently.
func (c *Client) Decompose(ctx context.Context, req DecomposeRequest) (*DecomposeResponse, error) {
	var resp DecomposeResponse
	if err := c.post(ctx, "/v1/decompose", c.decomposeTimeout, req, &resp); err != nil {
		return nil, err
	}

	if resp.Coverage < 0 || resp.Coverage > 1 {
		return nil, fmt.Errorf("%w: coverage %v out of range", ErrMalformedOutput, resp.Coverage)
	}
	for i, s := range resp.Steps {
		if s.CapabilityName == "" {
			return nil, fmt.Errorf("%w: step %d has no capability_name", ErrMalformedOutput, i+1)
		}
	}
	return &resp, nil
}

// Synthesize issues one specification-synthesis request for a single
// unmet requirement.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) (*models.CapabilitySpec, error) {
	var spec models.CapabilitySpec
	if err := c.post(ctx, "/v1/synthesize", c.synthesizeTimeout, req, &spec); err != nil {
		return nil, err
	}

	if spec.Name == "" {
		return nil, fmt.Errorf("%w: synthesized spec has no name", ErrMalformedOutput)
	}
	return &spec, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, in, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrUnavailable, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ── Snapshot validation ─────────────────────────────────────

// ValidateSteps drops decomposition steps that reference capabilities
// absent from the snapshot and recomputes coverage proportionally, so a
// plan step never points outside the snapshot used to build it. Clamps
// per-step confidence into [0,1].
func ValidateSteps(resp *DecomposeResponse, snap models.Snapshot) ([]models.PlanStep, float64) {
	if len(resp.Steps) == 0 {
		return nil, 0
	}

	var steps []models.PlanStep
	for _, s := range resp.Steps {
		if _, ok := snap.Lookup(s.CapabilityName); !ok {
			log.Debug().Str("capability", s.CapabilityName).Msg("oracle step references unknown capability, dropping")
			continue
		}
		conf := s.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		steps = append(steps, models.PlanStep{
			Ordinal:    len(steps) + 1,
			Capability: s.CapabilityName,
			Task:       s.TaskDescription,
			Confidence: conf,
		})
	}

	coverage := resp.Coverage * float64(len(steps)) / float64(len(resp.Steps))
	return steps, coverage
}
