package eval

import (
	"context"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

// #region feedback
// Feedback explains an evaluator failure. It is passed to the next
// generator call and never reused across runs.
type Feedback struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fix     string `json:"fix"`
}
// #endregion feedback

// #region result
// Result is the evaluator's pass/fail verdict.
type Result struct {
	Passed   bool      `json:"passed"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Pass is a passing result.
func Pass() Result { return Result{Passed: true} }

// Fail is a failing result with feedback.
func Fail(code, message, fix string) Result {
	return Result{Feedback: &Feedback{Code: code, Message: message, Fix: fix}}
}

// FeedbackCode returns the feedback code or "" when there is none.
func (r Result) FeedbackCode() string {
	if r.Feedback == nil {
		return ""
	}
	return r.Feedback.Code
}
// #endregion result

// #region evaluator
// Evaluator checks an artifact against the objective's hard constraints.
type Evaluator interface {
	Evaluate(ctx context.Context, a artifact.Artifact, analysis artifact.Analysis, obj objective.Objective) (Result, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, a artifact.Artifact, analysis artifact.Analysis, obj objective.Objective) (Result, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, a artifact.Artifact, analysis artifact.Analysis, obj objective.Objective) (Result, error) {
	return f(ctx, a, analysis, obj)
}
// #endregion evaluator

// #region semantic
// SemanticCheck is a single intent-consistency check.
type SemanticCheck struct {
	Name string
	Pass bool
}

// SemanticResult reports intent/artifact mismatches the evaluator cannot
// express. It never blocks convergence directly.
type SemanticResult struct {
	SemanticsMatch bool
	Issues         []string
	Checks         []SemanticCheck
}

// SemanticValidator checks that an artifact matches the objective's intent.
type SemanticValidator interface {
	Validate(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis) SemanticResult
}
// #endregion semantic
