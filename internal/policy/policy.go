package policy

import (
	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/reward"
	"github.com/danielpatrickdp/qrefine/internal/state"
)

// #region policy
// Policy bundles the domain-specific pieces the optimizer is parameterized
// over. Domain adapters embed Default and override what they need.
type Policy interface {
	ExtractState(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis, iteration int) state.State
	ApplicableActions(a artifact.Artifact, obj objective.Objective, iteration int) []action.Action
	Reward(a artifact.Artifact, obj objective.Objective, ev eval.Result, m reward.Metrics) reward.Components
	// ConvergenceThreshold is the total reward a passing, intent-matching
	// artifact must reach. It is defined per policy because reward scales
	// differ between domains.
	ConvergenceThreshold() float64
}
// #endregion policy

// #region default
// DefaultThreshold is the generic convergence threshold. With the default
// reward engine a passing artifact scores at most 60 + quality, so reaching
// it needs a strong quality signal as well.
const DefaultThreshold = 100.0

// Default is the domain-agnostic policy.
type Default struct {
	Engine    reward.Engine
	Threshold float64
}

// NewDefault returns the generic policy.
func NewDefault() Default {
	return Default{Engine: reward.Default{}, Threshold: DefaultThreshold}
}

func (d Default) ExtractState(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis, iteration int) state.State {
	return state.Extract(a, obj, analysis, iteration)
}

func (d Default) ApplicableActions(a artifact.Artifact, _ objective.Objective, iteration int) []action.Action {
	return action.Applicable(a, iteration)
}

func (d Default) Reward(a artifact.Artifact, obj objective.Objective, ev eval.Result, m reward.Metrics) reward.Components {
	engine := d.Engine
	if engine == nil {
		engine = reward.Default{}
	}
	return engine.Reward(a, obj, ev, m)
}

func (d Default) ConvergenceThreshold() float64 {
	if d.Threshold == 0 {
		return DefaultThreshold
	}
	return d.Threshold
}
// #endregion default
