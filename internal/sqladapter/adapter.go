package sqladapter

import (
	"context"

	"github.com/danielpatrickdp/qrefine/internal/gate"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/optimizer"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
)

// Result is the outcome of one query optimization.
type Result struct {
	RunID         string                   `json:"runId"`
	SQL           string                   `json:"sql"`
	Iterations    int                      `json:"iterations"`
	FinalReward   float64                  `json:"finalReward"`
	Converged     bool                     `json:"converged"`
	Outcome       gate.Outcome             `json:"outcome"`
	IterationLogs []optimizer.IterationLog `json:"iterationLogs"`
}

// Adapter bundles the SQL collaborators for the optimizer.
type Adapter struct {
	Generator optimizer.Generator
	Analyzer  optimizer.Analyzer
	Evaluator Evaluator
	Policy    Policy
}

// New builds an adapter around a generator and analyzer.
func New(gen optimizer.Generator, an optimizer.Analyzer) *Adapter {
	if an == nil {
		an = NewAnalyzer(nil, nil)
	}
	return &Adapter{Generator: gen, Analyzer: an, Policy: NewPolicy()}
}

// Optimize searches for a query satisfying obj against schema. The
// iteration cap comes from the objective's loop policy, then the
// optimizer's configured default.
func (a *Adapter) Optimize(ctx context.Context, opt *optimizer.Optimizer, obj objective.Objective, schema pgschema.Schema) (*Result, error) {
	res, err := opt.Optimize(ctx, optimizer.Request{
		Objective: obj,
		Context:   schema,
		Generator: a.Generator,
		Evaluator: a.Evaluator,
		Analyzer:  a.Analyzer,
		Policy:    a.Policy,
	})
	if err != nil {
		return nil, err
	}

	out := &Result{
		RunID:         res.RunID,
		Iterations:    res.Iterations,
		FinalReward:   res.FinalReward,
		Converged:     res.Converged,
		Outcome:       res.Outcome,
		IterationLogs: res.IterationLogs,
	}
	if res.Output != nil {
		out.SQL = res.Output.String()
	}
	return out, nil
}
