package planner

// Strategy enumerates the decomposition heuristics sent to the oracle.
// Each run fans out one decomposition call per strategy; the strategy's
// position in Strategies() is its stable index, used for deterministic
// tie-breaking.
type Strategy int

const (
	// StrategyLinear asks for a minimal sequential chain.
	StrategyLinear Strategy = iota
	// StrategyEfficient asks for the fewest steps.
	StrategyEfficient
	// StrategyComprehensive asks for maximal requirement coverage.
	StrategyComprehensive
	// StrategyCreative asks for novel capability combinations.
	StrategyCreative
)

// Strategies returns all strategies in stable generation order.
func Strategies() []Strategy {
	return []Strategy{StrategyLinear, StrategyEfficient, StrategyComprehensive, StrategyCreative}
}

// String returns the short strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyLinear:
		return "linear"
	case StrategyEfficient:
		return "efficient"
	case StrategyComprehensive:
		return "comprehensive"
	case StrategyCreative:
		return "creative"
	default:
		return "unknown"
	}
}

// Directive returns the instruction carried in the oracle request for
// this strategy.
func (s Strategy) Directive() string {
	switch s {
	case StrategyLinear:
		return "Produce a minimal sequential chain: each step feeds the next, no detours."
	case StrategyEfficient:
		return "Minimize the number of steps; reuse capabilities where possible."
	case StrategyComprehensive:
		return "Prioritize complete coverage of the goal's requirements, even at the cost of extra steps."
	case StrategyCreative:
		return "Combine capabilities in novel ways; consider non-obvious orderings."
	default:
		return ""
	}
}
