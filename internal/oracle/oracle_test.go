package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/internal/oracle"
	"github.com/conductor-ai/conductor/pkg/models"
)

func newClient(t *testing.T, handler http.Handler) *oracle.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return oracle.NewClient(config.OracleConfig{
		BaseURL:           srv.URL,
		DecomposeTimeout:  5 * time.Second,
		SynthesizeTimeout: 5 * time.Second,
	})
}

func TestDecompose(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/decompose" {
			t.Errorf("path = %q, want /v1/decompose", r.URL.Path)
		}
		var req oracle.DecomposeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Goal != "plan the trip" || req.StrategyDirective == "" {
			t.Errorf("request = %+v, want goal and strategy directive", req)
		}
		json.NewEncoder(w).Encode(oracle.DecomposeResponse{
			Steps: []oracle.DecomposeStep{
				{CapabilityName: "search", TaskDescription: "find flights", Confidence: 0.8},
			},
			Coverage:          0.7,
			UnmetRequirements: []string{"book a hotel"},
		})
	}))

	resp, err := c.Decompose(context.Background(), oracle.DecomposeRequest{
		Goal:              "plan the trip",
		StrategyDirective: "minimize steps",
	})
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if len(resp.Steps) != 1 || resp.Steps[0].CapabilityName != "search" {
		t.Errorf("resp.Steps = %+v", resp.Steps)
	}
	if resp.Coverage != 0.7 {
		t.Errorf("resp.Coverage = %v, want 0.7", resp.Coverage)
	}
	if len(resp.UnmetRequirements) != 1 {
		t.Errorf("resp.UnmetRequirements = %v", resp.UnmetRequirements)
	}
}

func TestDecompose_CoverageOutOfRange(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oracle.DecomposeResponse{Coverage: 1.5})
	}))

	_, err := c.Decompose(context.Background(), oracle.DecomposeRequest{Goal: "g"})
	if !errors.Is(err, oracle.ErrMalformedOutput) {
		t.Errorf("Decompose() error = %v, want ErrMalformedOutput", err)
	}
}

func TestDecompose_StepWithoutCapabilityName(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oracle.DecomposeResponse{
			Steps:    []oracle.DecomposeStep{{TaskDescription: "anonymous step"}},
			Coverage: 1.0,
		})
	}))

	_, err := c.Decompose(context.Background(), oracle.DecomposeRequest{Goal: "g"})
	if !errors.Is(err, oracle.ErrMalformedOutput) {
		t.Errorf("Decompose() error = %v, want ErrMalformedOutput", err)
	}
}

func TestDecompose_ServerErrorIsUnavailable(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.Decompose(context.Background(), oracle.DecomposeRequest{Goal: "g"})
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("Decompose() error = %v, want ErrUnavailable", err)
	}
}

func TestDecompose_UndecodableBodyIsMalformed(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not json</html>"))
	}))

	_, err := c.Decompose(context.Background(), oracle.DecomposeRequest{Goal: "g"})
	if !errors.Is(err, oracle.ErrMalformedOutput) {
		t.Errorf("Decompose() error = %v, want ErrMalformedOutput", err)
	}
}

func TestDecompose_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := oracle.NewClient(config.OracleConfig{
		BaseURL:          srv.URL,
		DecomposeTimeout: 30 * time.Millisecond,
	})

	_, err := c.Decompose(context.Background(), oracle.DecomposeRequest{Goal: "g"})
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("Decompose() error = %v, want ErrUnavailable on timeout", err)
	}
}

func TestSynthesize(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/synthesize" {
			t.Errorf("path = %q, want /v1/synthesize", r.URL.Path)
		}
		var req oracle.SynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.UnmetRequirement != "book a hotel" {
			t.Errorf("req.UnmetRequirement = %q", req.UnmetRequirement)
		}
		json.NewEncoder(w).Encode(models.CapabilitySpec{
			Name:        "hotel-booker",
			Description: "books hotels",
			Hints:       models.ImplementationHints{Complexity: "medium"},
		})
	}))

	spec, err := c.Synthesize(context.Background(), oracle.SynthesizeRequest{UnmetRequirement: "book a hotel"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if spec.Name != "hotel-booker" {
		t.Errorf("spec.Name = %q, want hotel-booker", spec.Name)
	}
}

func TestSynthesize_NamelessSpecIsMalformed(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.CapabilitySpec{Description: "no name"})
	}))

	_, err := c.Synthesize(context.Background(), oracle.SynthesizeRequest{UnmetRequirement: "r"})
	if !errors.Is(err, oracle.ErrMalformedOutput) {
		t.Errorf("Synthesize() error = %v, want ErrMalformedOutput", err)
	}
}

// ── ValidateSteps ───────────────────────────────────────────

func TestValidateSteps(t *testing.T) {
	snap := models.Snapshot{Capabilities: []models.Capability{
		{Name: "search", Endpoint: "http://caps/search"},
		{Name: "book", Endpoint: "http://caps/book"},
	}}

	resp := &oracle.DecomposeResponse{
		Steps: []oracle.DecomposeStep{
			{CapabilityName: "search", TaskDescription: "find flights", Confidence: 0.9},
			{CapabilityName: "imaginary", TaskDescription: "does not exist", Confidence: 0.9},
			{CapabilityName: "book", TaskDescription: "book the best one", Confidence: 1.7},
		},
		Coverage: 0.9,
	}

	steps, coverage := oracle.ValidateSteps(resp, snap)

	if len(steps) != 2 {
		t.Fatalf("ValidateSteps() kept %d steps, want 2", len(steps))
	}
	if steps[0].Ordinal != 1 || steps[1].Ordinal != 2 {
		t.Errorf("ordinals = %d,%d, want contiguous 1-based", steps[0].Ordinal, steps[1].Ordinal)
	}
	if steps[1].Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", steps[1].Confidence)
	}
	// 0.9 · 2/3
	if want := 0.9 * 2.0 / 3.0; math.Abs(coverage-want) > 1e-9 {
		t.Errorf("coverage = %v, want %v", coverage, want)
	}
}

func TestValidateSteps_Empty(t *testing.T) {
	steps, coverage := oracle.ValidateSteps(&oracle.DecomposeResponse{Coverage: 1.0}, models.Snapshot{})
	if steps != nil || coverage != 0 {
		t.Errorf("ValidateSteps(empty) = (%v, %v), want (nil, 0)", steps, coverage)
	}
}
