package optimizer

// #region imports
import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/gate"
	"github.com/danielpatrickdp/qrefine/internal/metrics"
	"github.com/danielpatrickdp/qrefine/internal/policy"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
	"github.com/danielpatrickdp/qrefine/internal/reward"
	"github.com/danielpatrickdp/qrefine/internal/state"
)

// #endregion

// #region optimizer-struct

// DefaultMaxIterations caps a run when neither the request nor the
// objective sets a limit.
const DefaultMaxIterations = 10

// Optimizer runs the generate/evaluate/learn loop. One Optimizer, with its
// Q-table and experience buffer, is shared by every run in the process;
// runs may execute concurrently.
type Optimizer struct {
	table       *qtable.Table
	experiences *experience.Buffer
	catalog     *action.Catalog
	validator   eval.SemanticValidator

	logger   *zap.Logger
	tracer   trace.Tracer
	recorder *metrics.Recorder
	sink     IterationSink
	rng      *rand.Rand

	tablePersister  qtable.Persister
	experienceStore experience.Store
	persistLearning bool

	generateTimeout time.Duration
	maxIterations   int
}

// #endregion

// #region constructor

// New wires an optimizer around a shared table and experience buffer.
func New(table *qtable.Table, experiences *experience.Buffer, opts ...Option) *Optimizer {
	o := &Optimizer{
		table:           table,
		experiences:     experiences,
		validator:       eval.NewIntentValidator(),
		logger:          zap.NewNop(),
		tracer:          otel.Tracer("github.com/danielpatrickdp/qrefine/internal/optimizer"),
		generateTimeout: 60 * time.Second,
		maxIterations:   DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.catalog = action.NewCatalog(o.rng)
	return o
}

// Table returns the shared Q-table.
func (o *Optimizer) Table() *qtable.Table { return o.table }

// Experiences returns the shared experience buffer.
func (o *Optimizer) Experiences() *experience.Buffer { return o.experiences }

// #endregion

// #region optimize

// Optimize runs one optimization to convergence or the iteration cap.
// Generator, evaluator and analyzer failures abort the run; persistence and
// sink failures are logged only.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	if req.Generator == nil || req.Evaluator == nil || req.Analyzer == nil {
		return nil, fmt.Errorf("optimize: %w", ErrMissingCollaborator)
	}
	pol := req.Policy
	if pol == nil {
		pol = policy.NewDefault()
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = req.Objective.MaxIterations(o.maxIterations)
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.Optimize", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.max_iterations", maxIter),
	))
	defer span.End()

	log := o.logger.With(zap.String("run", runID))
	log.Info("run started",
		zap.String("intent", req.Objective.Intent),
		zap.Int("max_iterations", maxIter),
		zap.Float64("threshold", pol.ConvergenceThreshold()),
		zap.Float64("epsilon", o.table.Epsilon()))

	r := &run{
		o:       o,
		req:     req,
		pol:     pol,
		gate:    gate.NewGate(gate.GateConfig{Threshold: pol.ConvergenceThreshold()}),
		maxIter: maxIter,
		runID:   runID,
		log:     log,
	}
	o.sinkStart(ctx, r)

	res, err := r.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run aborted", zap.Error(err), zap.Int("iteration", len(r.logs)+1))
		return nil, err
	}

	o.finish(ctx, res)
	span.SetAttributes(
		attribute.String("run.outcome", string(res.Outcome)),
		attribute.Int("run.iterations", res.Iterations),
		attribute.Float64("run.final_reward", res.FinalReward),
	)
	return res, nil
}

// #endregion

// #region run

// run carries the mutable state of a single optimization.
type run struct {
	o       *Optimizer
	req     Request
	pol     policy.Policy
	gate    *gate.Gate
	maxIter int
	runID   string
	log     *zap.Logger

	current     artifact.Artifact
	feedback    *eval.Feedback
	finalReward float64
	logs        []IterationLog
}

func (r *run) loop(ctx context.Context) (*Result, error) {
	var last gate.Decision
	for iteration := 1; iteration <= r.maxIter; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		entry, decision, err := r.step(ctx, iteration)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		last = decision

		if decision.Outcome == gate.OutcomeConverged {
			r.log.Info("converged", zap.Int("iteration", iteration), zap.Float64("reward", entry.Reward.Total))
			return r.result(entry.Output, iteration, decision.Outcome), nil
		}
		if decision.Outcome == gate.OutcomePartialConvergence {
			r.log.Warn("partial convergence: constraints pass but semantic issues remain",
				zap.Strings("issues", entry.SemanticIssues))
		}
	}

	r.log.Info("max iterations reached without full convergence", zap.String("reason", last.Reason))
	return r.result(r.current, r.maxIter, last.Outcome), nil
}

func (r *run) result(output artifact.Artifact, iterations int, outcome gate.Outcome) *Result {
	return &Result{
		RunID:         r.runID,
		Output:        output,
		Iterations:    iterations,
		FinalReward:   r.finalReward,
		Converged:     outcome == gate.OutcomeConverged,
		Outcome:       outcome,
		IterationLogs: r.logs,
	}
}

// #endregion

// #region step

// step runs one iteration: select an action in the current state, produce
// the next artifact, score it and learn from the transition.
func (r *run) step(ctx context.Context, iteration int) (IterationLog, gate.Decision, error) {
	o := r.o
	ctx, span := o.tracer.Start(ctx, "optimizer.iteration", trace.WithAttributes(attribute.Int("iteration", iteration)))
	defer span.End()

	// 1. Bootstrap
	if iteration == 1 || r.current == nil {
		out, err := o.generate(ctx, r.req.Generator, GenerateRequest{
			Objective: r.req.Objective,
			Context:   r.req.Context,
		})
		if err != nil {
			return IterationLog{}, gate.Decision{}, fmt.Errorf("bootstrap generate: %w", err)
		}
		r.current = out
	}

	// 2. Observe and select
	analysis, err := r.req.Analyzer.Analyze(ctx, r.current)
	if err != nil {
		return IterationLog{}, gate.Decision{}, fmt.Errorf("analyze: %w", err)
	}
	cur := r.pol.ExtractState(r.current, r.req.Objective, analysis, iteration)
	curKey := cur.Key()
	applicable := r.pol.ApplicableActions(r.current, r.req.Objective, iteration)
	selected := o.table.SelectAction(curKey, applicable)
	o.recorder.ActionSelected(string(selected))
	span.SetAttributes(attribute.String("action", string(selected)), attribute.String("state", curKey))

	r.log.Debug("action selected",
		zap.Int("iteration", iteration),
		zap.String("state", curKey),
		zap.Any("applicable", applicable),
		zap.String("action", string(selected)))

	// 3. Act
	next, err := r.act(ctx, selected)
	if err != nil {
		return IterationLog{}, gate.Decision{}, err
	}

	// 4. Score
	nextAnalysis, err := r.req.Analyzer.Analyze(ctx, next)
	if err != nil {
		return IterationLog{}, gate.Decision{}, fmt.Errorf("analyze: %w", err)
	}
	ev, err := r.req.Evaluator.Evaluate(ctx, next, nextAnalysis, r.req.Objective)
	if err != nil {
		return IterationLog{}, gate.Decision{}, fmt.Errorf("evaluate: %w", err)
	}
	sem := o.validator.Validate(next, r.req.Objective, nextAnalysis)
	m := reward.MetricsFromAnalysis(nextAnalysis, r.req.Objective, ev)
	rw := reward.ApplySemanticPenalty(r.pol.Reward(next, r.req.Objective, ev, m), sem.Issues)
	r.finalReward = rw.Total

	// 5. Learn
	nextState := r.pol.ExtractState(next, r.req.Objective, nextAnalysis, iteration)
	nextKey := nextState.Key()
	nextApplicable := r.pol.ApplicableActions(next, r.req.Objective, iteration+1)
	upd := o.table.Update(curKey, selected, rw.Total, nextKey, nextApplicable)

	// 6. Record
	o.experiences.Add(experience.Experience{
		StateKey:      curKey,
		Action:        selected,
		Reward:        rw.Total,
		NextStateKey:  nextKey,
		Terminal:      ev.Passed,
		ObjectiveHash: cur.ObjectiveHash,
	})

	decision := r.gate.Evaluate(gate.Input{
		Passed:         ev.Passed,
		SemanticsMatch: sem.SemanticsMatch,
		SemanticIssues: sem.Issues,
		Total:          rw.Total,
		Iteration:      iteration,
		MaxIterations:  r.maxIter,
	})

	entry := IterationLog{
		Iteration:      iteration,
		Output:         next,
		Action:         selected,
		StateKey:       curKey,
		NextStateKey:   nextKey,
		Evaluation:     ev,
		SemanticMatch:  sem.SemanticsMatch,
		SemanticIssues: sem.Issues,
		Reward:         rw,
		QValue:         upd.NewValue,
		Outcome:        decision.Outcome,
		Converged:      decision.Outcome == gate.OutcomeConverged,
		Timestamp:      time.Now().UTC(),
	}
	r.logs = append(r.logs, entry)
	o.sinkRecord(ctx, r, entry)

	r.log.Info("iteration",
		zap.Int("iteration", iteration),
		zap.String("action", string(selected)),
		zap.Bool("passed", ev.Passed),
		zap.String("feedback", ev.FeedbackCode()),
		zap.Int("semantic_issues", len(sem.Issues)),
		zap.Float64("reward", rw.Total),
		zap.Float64("constraint", rw.ConstraintScore),
		zap.Float64("quality", rw.QualityScore),
		zap.Float64("q", upd.NewValue),
		zap.String("outcome", string(decision.Outcome)))

	// 7. Advance
	r.current = next
	r.feedback = ev.Feedback
	return entry, decision, nil
}

// act produces the next artifact for the selected action. Generative
// actions, and transforms that cannot run locally, call the generator with
// the current artifact and the last feedback.
func (r *run) act(ctx context.Context, selected action.Action) (artifact.Artifact, error) {
	if !selected.Generative() {
		if out, ok := r.o.catalog.Apply(r.current, selected); ok {
			return out, nil
		}
	}
	out, err := r.o.generate(ctx, r.req.Generator, GenerateRequest{
		Objective: r.req.Objective,
		Context:   r.req.Context,
		Previous:  r.current,
		Feedback:  r.feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("generate for %s: %w", selected, err)
	}
	return out, nil
}

// #endregion

// #region generate

// generate wraps one generator call with the configured timeout.
func (o *Optimizer) generate(ctx context.Context, gen Generator, req GenerateRequest) (artifact.Artifact, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.generate")
	defer span.End()

	if o.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.generateTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := gen.Generate(ctx, req)
	if err == nil && (out == nil || out.IsEmpty()) {
		err = ErrEmptyOutput
	}
	o.recorder.Generated(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// #endregion

// #region finish

// finish decays epsilon once per completed run and persists when enabled.
func (o *Optimizer) finish(ctx context.Context, res *Result) {
	eps := o.table.DecayEpsilon()
	if o.persistLearning {
		o.Persist(ctx)
	}
	o.recorder.RunFinished(string(res.Outcome), res.Iterations, res.FinalReward)
	o.recorder.LearnerState(o.table.Len(), eps)
	o.sinkFinish(ctx, res)

	o.logger.Info("run finished",
		zap.String("run", res.RunID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("final_reward", res.FinalReward),
		zap.Float64("epsilon", eps))
}

// Persist saves the table and experience log. Failures are logged and
// swallowed.
func (o *Optimizer) Persist(ctx context.Context) {
	if o.tablePersister != nil {
		if err := o.table.Save(ctx, o.tablePersister); err != nil {
			o.logger.Error("failed to save qtable", zap.Error(err))
		}
	}
	if o.experienceStore != nil {
		if err := o.experiences.Save(ctx, o.experienceStore); err != nil {
			o.logger.Error("failed to save experiences", zap.Error(err))
		}
	}
}

// Load restores the table and experience log from the configured
// persisters. Failures leave the stores empty and are logged.
func (o *Optimizer) Load(ctx context.Context) {
	if o.tablePersister != nil {
		if err := o.table.Load(ctx, o.tablePersister); err != nil {
			o.logger.Warn("starting with an empty qtable", zap.Error(err))
		}
	}
	if o.experienceStore != nil {
		if err := o.experiences.Load(ctx, o.experienceStore); err != nil {
			o.logger.Warn("starting with an empty experience log", zap.Error(err))
		}
	}
	o.recorder.LearnerState(o.table.Len(), o.table.Epsilon())
}

// #endregion

// #region sink

func (o *Optimizer) sinkStart(ctx context.Context, r *run) {
	if o.sink == nil {
		return
	}
	info := RunInfo{
		RunID:         r.runID,
		ObjectiveHash: state.Hash(r.req.Objective),
		Intent:        r.req.Objective.Intent,
		StartedAt:     time.Now().UTC(),
	}
	if err := o.sink.StartRun(ctx, info); err != nil {
		r.log.Warn("iteration sink: start run", zap.Error(err))
	}
}

func (o *Optimizer) sinkRecord(ctx context.Context, r *run, entry IterationLog) {
	if o.sink == nil {
		return
	}
	if err := o.sink.RecordIteration(ctx, r.runID, entry); err != nil {
		r.log.Warn("iteration sink: record", zap.Error(err), zap.Int("iteration", entry.Iteration))
	}
}

func (o *Optimizer) sinkFinish(ctx context.Context, res *Result) {
	if o.sink == nil {
		return
	}
	if err := o.sink.FinishRun(ctx, res.RunID, res); err != nil {
		o.logger.Warn("iteration sink: finish run", zap.Error(err), zap.String("run", res.RunID))
	}
}

// #endregion
