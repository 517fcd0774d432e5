package gate

import (
	"fmt"
	"strings"
)

// #region gate
// Gate decides whether a run has converged.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Threshold returns the configured convergence threshold.
func (g *Gate) Threshold() float64 {
	return g.config.Threshold
}

// Evaluate checks convergence first, then the iteration cap.
// Convergence needs the evaluator to pass, no semantic issues and a total
// reward at or above the threshold.
func (g *Gate) Evaluate(in Input) Decision {
	if in.Passed && in.SemanticsMatch && in.Total >= g.config.Threshold {
		return Decision{
			Outcome: OutcomeConverged,
			Reason:  fmt.Sprintf("constraints and intent satisfied: reward=%.2f threshold=%.2f", in.Total, g.config.Threshold),
		}
	}

	if in.Iteration < in.MaxIterations {
		return Decision{
			Outcome: OutcomeContinue,
			Reason:  continueReason(in, g.config.Threshold),
		}
	}

	// Final iteration: constraints pass but intent issues remain
	if in.Passed && !in.SemanticsMatch {
		return Decision{
			Outcome: OutcomePartialConvergence,
			Reason:  fmt.Sprintf("constraints pass but semantic issues remain: %s", strings.Join(in.SemanticIssues, "; ")),
		}
	}

	return Decision{
		Outcome: OutcomeMaxIterations,
		Reason:  fmt.Sprintf("no convergence after %d iterations: %s", in.MaxIterations, continueReason(in, g.config.Threshold)),
	}
}
// #endregion gate

// #region helpers
func continueReason(in Input, threshold float64) string {
	switch {
	case !in.Passed:
		return "evaluator failed"
	case !in.SemanticsMatch:
		return fmt.Sprintf("%d semantic issues", len(in.SemanticIssues))
	default:
		return fmt.Sprintf("reward %.2f below threshold %.2f", in.Total, threshold)
	}
}
// #endregion helpers
