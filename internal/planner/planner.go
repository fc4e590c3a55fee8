// Package planner turns a natural-language goal into a selected
// execution plan against a capability snapshot.
//
// Planning is a scatter/gather: one decomposition request per strategy
// is issued concurrently against the oracle, every result (including
// degraded ones) is collected, candidates are scored, and the best is
// selected. If the selected plan leaves requirements uncovered, the gap
// analyzer asks the oracle to synthesize specifications for the
// missing capabilities.
//
// A Planner holds no per-call state, so a single instance serves any
// number of concurrent runs.
package planner

import (
	"context"
	"errors"

	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/internal/oracle"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoViablePlan is returned when every candidate decomposition came
// back with zero steps. Planning fails and no plan is produced.
var ErrNoViablePlan = errors.New("no viable plan: all candidate decompositions are empty")

// Scoring weights. The composability term multiplies a fixed
// configuration value (Config.ComposabilityWeight), not a per-candidate
// metric.
const (
	coverageWeight      = 0.6
	efficiencyWeight    = 0.3
	composabilityWeight = 0.1
)

// Oracle is the subset of the oracle client the planner depends on.
type Oracle interface {
	Decompose(ctx context.Context, req oracle.DecomposeRequest) (*oracle.DecomposeResponse, error)
	Synthesize(ctx context.Context, req oracle.SynthesizeRequest) (*models.CapabilitySpec, error)
}

// Result is the full outcome of one planning call.
type Result struct {
	// Selected is the winning candidate. Never nil on success.
	Selected *models.Plan `json:"selected"`

	// Candidates holds every candidate in strategy order, including
	// degraded ones, for inspection.
	Candidates []models.Plan `json:"candidates"`

	// Gaps lists unmet requirements of the selected plan, each with a
	// synthesized capability specification where synthesis succeeded.
	Gaps []models.Gap `json:"gaps,omitempty"`
}

// Planner generates, scores, and selects candidate decompositions.
type Planner struct {
	oracle Oracle
	cfg    config.PlannerConfig
}

// New creates a planner over the given oracle.
func New(o Oracle, cfg config.PlannerConfig) *Planner {
	return &Planner{oracle: o, cfg: cfg}
}

// Plan decomposes the goal against the snapshot and returns the
// selected plan with any gaps. Returns ErrNoViablePlan when no
// candidate produced steps.
func (p *Planner) Plan(ctx context.Context, goal string, snap models.Snapshot) (*Result, error) {
	candidates, unmetByIndex := p.generate(ctx, goal, snap)

	selected, err := p.selectBest(candidates)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Selected:   selected,
		Candidates: candidates,
	}

	if selected.Coverage < 1.0 {
		unmet := unmetByIndex[selected.StrategyIndex]
		result.Gaps = p.analyzeGaps(ctx, unmet, selected.Steps, snap)
	}

	log.Info().
		Str("goal", goal).
		Int("candidates", len(candidates)).
		Str("strategy", selected.Strategy).
		Float64("coverage", selected.Coverage).
		Float64("score", selected.Score).
		Int("gaps", len(result.Gaps)).
		Msg("plan selected")

	return result, nil
}

// generate fans out one independent decomposition call per strategy and
// gathers all K results before returning. A call that errors or returns
// invalid output yields a degraded candidate (coverage 0, no steps)
// rather than failing the fan-out: one bad strategy never blocks the
// others, and there is no short-circuit on first success.
func (p *Planner) generate(ctx context.Context, goal string, snap models.Snapshot) ([]models.Plan, [][]string) {
	strategies := Strategies()
	candidates := make([]models.Plan, len(strategies))
	unmetByIndex := make([][]string, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, strat := range strategies {
		g.Go(func() error {
			resp, err := p.oracle.Decompose(gctx, oracle.DecomposeRequest{
				Goal:              goal,
				Capabilities:      snap.Capabilities,
				StrategyDirective: strat.Directive(),
			})
			if err != nil {
				log.Warn().Err(err).Str("strategy", strat.String()).Msg("decomposition degraded")
				candidates[i] = models.Plan{
					StrategyIndex: i,
					Strategy:      strat.String(),
					Degraded:      true,
				}
				return nil
			}

			steps, coverage := oracle.ValidateSteps(resp, snap)
			candidates[i] = models.Plan{
				Steps:         steps,
				Coverage:      coverage,
				StrategyIndex: i,
				Strategy:      strat.String(),
			}
			unmetByIndex[i] = resp.UnmetRequirements
			return nil
		})
	}
	// Workers only ever return nil; degraded candidates stand in for errors.
	g.Wait()

	for i := range candidates {
		p.score(&candidates[i])
	}
	return candidates, unmetByIndex
}

// score computes the candidate's composite score:
//
//	0.6·coverage + 0.3·(1/max(step_count,1)) + 0.1·composability
func (p *Planner) score(c *models.Plan) {
	coverage := coverageWeight * c.Coverage
	efficiency := efficiencyWeight * (1.0 / float64(max(len(c.Steps), 1)))
	composability := composabilityWeight * p.cfg.ComposabilityWeight

	c.Score = coverage + efficiency + composability
	c.Breakdown = models.ScoreBreakdown{
		Coverage:      coverage,
		Efficiency:    efficiency,
		Composability: composability,
	}
}

// selectBest picks the maximum-score candidate among those with steps.
// Iterating in generation order with a strict greater-than comparison
// makes equal-score ties resolve to the lowest strategy index.
func (p *Planner) selectBest(candidates []models.Plan) (*models.Plan, error) {
	bestIdx := -1
	for i := range candidates {
		if len(candidates[i].Steps) == 0 {
			continue
		}
		if bestIdx < 0 || candidates[i].Score > candidates[bestIdx].Score {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, ErrNoViablePlan
	}

	selected := candidates[bestIdx]
	selected.Executable = selected.Coverage >= p.cfg.MinCoverage
	if !selected.Executable {
		log.Warn().
			Float64("coverage", selected.Coverage).
			Float64("min_coverage", p.cfg.MinCoverage).
			Msg("selected plan below coverage threshold, not executable")
	}
	return &selected, nil
}
