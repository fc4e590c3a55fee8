package planner

import (
	"context"

	"github.com/conductor-ai/conductor/internal/oracle"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// analyzeGaps asks the oracle to synthesize a capability specification
// for each unmet requirement of the selected plan. It runs only when
// coverage < 1.0; full-coverage plans issue zero synthesis calls.
//
// One synthesis request per requirement. A failed or invalid response
// degrades to a Gap carrying only the requirement text; gap analysis
// never aborts the overall planning result.
func (p *Planner) analyzeGaps(ctx context.Context, unmet []string, steps []models.PlanStep, snap models.Snapshot) []models.Gap {
	if len(unmet) == 0 {
		return nil
	}

	gaps := make([]models.Gap, 0, len(unmet))
	for _, requirement := range unmet {
		gap := models.Gap{Requirement: requirement}

		spec, err := p.oracle.Synthesize(ctx, oracle.SynthesizeRequest{
			UnmetRequirement: requirement,
			PlanContext:      steps,
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Str("requirement", requirement).Msg("gap synthesis degraded")
		case collides(spec.Name, snap):
			// A synthesized capability must not shadow an existing one.
			log.Warn().
				Str("requirement", requirement).
				Str("name", spec.Name).
				Msg("synthesized spec collides with existing capability, dropping spec")
		default:
			gap.Spec = spec
		}

		gaps = append(gaps, gap)
	}
	return gaps
}

func collides(name string, snap models.Snapshot) bool {
	_, exists := snap.Lookup(name)
	return exists
}
