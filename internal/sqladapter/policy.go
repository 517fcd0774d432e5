package sqladapter

import (
	"strings"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/policy"
	"github.com/danielpatrickdp/qrefine/internal/state"
)

// Threshold is the convergence threshold for SQL. A passing query earns 100
// constraint points, so any non-negative quality score clears it.
const Threshold = 100.0

// maxJoins is the join count past which SIMPLIFY becomes available.
const maxJoins = 4

// Policy specializes the default policy for SQL.
type Policy struct {
	policy.Default
}

var _ policy.Policy = Policy{}

// NewPolicy returns the SQL policy.
func NewPolicy() Policy {
	return Policy{Default: policy.Default{Engine: Reward{}, Threshold: Threshold}}
}

// ExtractState adds the query-shape features.
func (p Policy) ExtractState(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis, iteration int) state.State {
	s := p.Default.ExtractState(a, obj, analysis, iteration)
	s.Features["usesJoin"] = analysis.Bool(KeyUsesJoin)
	s.Features["usesWhere"] = analysis.Bool(KeyUsesWhere)
	s.Features["hasAggregation"] = analysis.Bool(KeyHasAggregation)
	s.Features["joinCount"] = len(analysis.Strings(KeyJoinedTables))
	return s
}

// ApplicableActions offers regeneration always, REFINE for any query,
// EXPAND while the query has no WHERE clause, SIMPLIFY once it carries more
// than four joins, and RESET after the third iteration.
func (Policy) ApplicableActions(a artifact.Artifact, _ objective.Objective, iteration int) []action.Action {
	actions := []action.Action{action.UseGenerator}
	if !a.IsEmpty() {
		lower := strings.ToLower(a.String())
		actions = append(actions, action.Refine)
		if !strings.Contains(lower, "where") {
			actions = append(actions, action.Expand)
		}
		if strings.Count(lower, "join") > maxJoins {
			actions = append(actions, action.Simplify)
		}
	}
	if iteration > 3 {
		actions = append(actions, action.Reset)
	}
	return actions
}
