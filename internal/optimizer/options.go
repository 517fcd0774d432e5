package optimizer

import (
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/metrics"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
)

// #region options
// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) { o.logger = l.Named("optimizer") }
}

// WithTracer sets the tracer used for run and iteration spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Optimizer) { o.tracer = t }
}

// WithRand seeds the local transformations (PERTURB_OUTPUT).
func WithRand(rng *rand.Rand) Option {
	return func(o *Optimizer) { o.rng = rng }
}

// WithSemanticValidator replaces the default intent validator.
func WithSemanticValidator(v eval.SemanticValidator) Option {
	return func(o *Optimizer) { o.validator = v }
}

// WithMetrics records run telemetry.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Optimizer) { o.recorder = r }
}

// WithIterationSink streams iteration logs to s.
func WithIterationSink(s IterationSink) Option {
	return func(o *Optimizer) { o.sink = s }
}

// WithPersistence saves the table and experience log at the end of every
// run. Either may be nil.
func WithPersistence(table qtable.Persister, exps experience.Store) Option {
	return func(o *Optimizer) {
		o.tablePersister = table
		o.experienceStore = exps
		o.persistLearning = table != nil || exps != nil
	}
}

// WithGenerateTimeout bounds every generator call. Zero disables it.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Optimizer) { o.generateTimeout = d }
}

// WithMaxIterations sets the default iteration cap.
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}
// #endregion options
