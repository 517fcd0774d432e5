package gate

// #region outcome
// Outcome classifies the end state of one iteration.
type Outcome string

const (
	OutcomeContinue           Outcome = "continue"
	OutcomeConverged          Outcome = "converged"
	OutcomePartialConvergence Outcome = "partial_convergence"
	OutcomeMaxIterations      Outcome = "max_iterations_reached"
)

// Terminal reports whether the run stops on this outcome.
func (o Outcome) Terminal() bool {
	return o != OutcomeContinue
}
// #endregion outcome

// #region gate-config
// GateConfig holds the convergence threshold. Each policy supplies its own
// because reward scales differ between domains.
type GateConfig struct {
	Threshold float64
}

// DefaultGateConfig returns the generic threshold.
func DefaultGateConfig() GateConfig {
	return GateConfig{Threshold: 100}
}
// #endregion gate-config

// #region input
// Input is what the gate needs to know about one iteration.
type Input struct {
	Passed         bool
	SemanticsMatch bool
	SemanticIssues []string
	Total          float64
	Iteration      int
	MaxIterations  int
}
// #endregion input

// #region decision
// Decision records the gate verdict.
type Decision struct {
	Outcome Outcome
	Reason  string
}
// #endregion decision
