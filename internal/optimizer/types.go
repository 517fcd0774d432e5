package optimizer

// #region imports
import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/gate"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/policy"
	"github.com/danielpatrickdp/qrefine/internal/reward"
)

// #endregion

// #region errors

var (
	// ErrEmptyOutput means the generator returned nothing to evaluate.
	ErrEmptyOutput = errors.New("generator returned empty output")
	// ErrMissingCollaborator means a Request lacks a generator, evaluator
	// or analyzer.
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// #endregion

// #region collaborators

// GenerateRequest is what the generator sees. Previous and Feedback are nil
// on the bootstrap call.
type GenerateRequest struct {
	Objective objective.Objective
	Context   any
	Previous  artifact.Artifact
	Feedback  *eval.Feedback
}

// Generator produces candidate artifacts, usually by calling a model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (artifact.Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (artifact.Artifact, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (artifact.Artifact, error) {
	return f(ctx, req)
}

// Analyzer derives features from an artifact.
type Analyzer interface {
	Analyze(ctx context.Context, a artifact.Artifact) (artifact.Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, a artifact.Artifact) (artifact.Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, a artifact.Artifact) (artifact.Analysis, error) {
	return f(ctx, a)
}

// #endregion

// #region request

// Request describes one optimization run.
type Request struct {
	Objective objective.Objective
	// Context is passed through to the generator untouched (a schema, a
	// style guide).
	Context   any
	Generator Generator
	Evaluator eval.Evaluator
	Analyzer  Analyzer
	// MaxIterations falls back to the objective's loop policy, then to the
	// optimizer default.
	MaxIterations int
	// Policy defaults to policy.NewDefault().
	Policy policy.Policy
	RunID  string
}

// #endregion

// #region result

// IterationLog records one iteration for observability.
type IterationLog struct {
	Iteration      int               `json:"iteration"`
	Output         artifact.Artifact `json:"output"`
	Action         action.Action     `json:"action"`
	StateKey       string            `json:"state"`
	NextStateKey   string            `json:"nextState"`
	Evaluation     eval.Result       `json:"evaluation"`
	SemanticMatch  bool              `json:"semanticMatch"`
	SemanticIssues []string          `json:"semanticIssues"`
	Reward         reward.Components `json:"reward"`
	QValue         float64           `json:"qValue"`
	Outcome        gate.Outcome      `json:"outcome"`
	Converged      bool              `json:"converged"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Result is the outcome of a run. Reaching the iteration cap is a normal
// result, not an error.
type Result struct {
	RunID         string            `json:"runId"`
	Output        artifact.Artifact `json:"output"`
	Iterations    int               `json:"iterations"`
	FinalReward   float64           `json:"finalReward"`
	Converged     bool              `json:"converged"`
	Outcome       gate.Outcome      `json:"outcome"`
	IterationLogs []IterationLog    `json:"iterationLogs"`
}

// RunInfo identifies a run to an IterationSink.
type RunInfo struct {
	RunID         string
	ObjectiveHash string
	Intent        string
	StartedAt     time.Time
}

// IterationSink receives iteration logs as they are produced. Sink
// failures are logged and never abort a run.
type IterationSink interface {
	StartRun(ctx context.Context, info RunInfo) error
	RecordIteration(ctx context.Context, runID string, log IterationLog) error
	FinishRun(ctx context.Context, runID string, res *Result) error
}

// #endregion
