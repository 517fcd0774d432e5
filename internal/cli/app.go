package cli

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/codec"
	"github.com/danielpatrickdp/qrefine/internal/config"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/llm"
	"github.com/danielpatrickdp/qrefine/internal/logging"
	"github.com/danielpatrickdp/qrefine/internal/metrics"
	"github.com/danielpatrickdp/qrefine/internal/optimizer"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
	"github.com/danielpatrickdp/qrefine/internal/sqladapter"
	"github.com/danielpatrickdp/qrefine/internal/store"
)

// #endregion

// #region app

// app owns every long-lived dependency of a command. Commands build one
// with newApp and must call close.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store    *store.Store
	sink     *logging.SQLiteSink
	table    *qtable.Table
	buffer   *experience.Buffer
	opt      *optimizer.Optimizer
	registry *prometheus.Registry

	tablePersister  qtable.Persister
	experienceStore experience.Store

	pool    *pgxpool.Pool
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	a.sink = logging.NewSQLiteSink(st.DB())

	var rng *rand.Rand
	if cfg.Optimizer.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Optimizer.Seed, cfg.Optimizer.Seed))
	}
	a.table = qtable.New(cfg.QLearning, qtable.WithRand(rng), qtable.WithLogger(logger))
	a.buffer = experience.NewBuffer(cfg.QLearning.MaxExperiences, logger)

	if cfg.Storage.RedisURL != "" {
		rp, err := qtable.DialRedis(cfg.Storage.RedisURL, cfg.Storage.RedisKey)
		if err != nil {
			a.close()
			return nil, err
		}
		a.tablePersister = rp
		a.closers = append(a.closers, rp.Close)
	} else {
		a.tablePersister = qtable.NewFilePersister(cfg.Storage.QTablePath)
	}
	if cfg.Storage.ExperiencePath != "" {
		a.experienceStore = experience.NewFileStore(cfg.Storage.ExperiencePath)
	} else {
		a.experienceStore = experience.NewSQLiteStore(st.DB(), cfg.QLearning.MaxExperiences)
	}

	opts := []optimizer.Option{
		optimizer.WithLogger(logger),
		optimizer.WithTracer(otel.Tracer("github.com/danielpatrickdp/qrefine")),
		optimizer.WithMetrics(metrics.NewRecorder(a.registry)),
		optimizer.WithIterationSink(a.sink),
		optimizer.WithGenerateTimeout(cfg.Optimizer.GenerateTimeout),
		optimizer.WithMaxIterations(cfg.Optimizer.MaxIterations),
	}
	if rng != nil {
		opts = append(opts, optimizer.WithRand(rng))
	}
	if cfg.Optimizer.PersistLearning {
		opts = append(opts, optimizer.WithPersistence(a.tablePersister, a.experienceStore))
	}
	a.opt = optimizer.New(a.table, a.buffer, opts...)
	if cfg.Optimizer.PersistLearning {
		a.opt.Load(ctx)
	}

	if cfg.Metrics.ListenAddr != "" {
		a.serveMetrics(cfg.Metrics.ListenAddr)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// #endregion

// #region metrics

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// #endregion

// #region collaborators

// generator builds the configured generator. The gRPC provider talks to a
// remote service directly; the model providers go through the SQL prompt
// builder.
func (a *app) generator() (optimizer.Generator, error) {
	if a.cfg.LLM.Provider == "grpc" {
		c, err := codec.NewClient(a.cfg.LLM.GRPCAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	}
	comp, err := a.completer()
	if err != nil {
		return nil, err
	}
	return sqladapter.NewGenerator(comp, a.logger).WithSampling(a.cfg.LLM.Temperature, a.cfg.LLM.MaxTokens), nil
}

func (a *app) completer() (llm.Completer, error) {
	lc := a.cfg.LLM
	var comp llm.Completer
	switch lc.Provider {
	case "openai":
		key, err := llm.APIKey("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		comp = llm.NewOpenAI(key, lc.Model, lc.BaseURL, a.logger)
	case "anthropic":
		key, err := llm.APIKey("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		comp = llm.NewAnthropic(key, lc.Model, lc.BaseURL, a.logger)
	default:
		return nil, fmt.Errorf("provider %q has no completion backend", lc.Provider)
	}
	if lc.RequestsPerSecond > 0 {
		comp = llm.NewLimited(comp, lc.RequestsPerSecond, lc.Burst)
	}
	return comp, nil
}

// postgres connects once and reuses the pool.
func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if a.cfg.Postgres.DatabaseURL == "" {
		return nil, errors.New("no database configured; set REFINE_DATABASE_URL")
	}
	pool, err := pgschema.Connect(ctx, a.cfg.Postgres.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

// sqlAdapter wires the SQL collaborators. Without a database the analyzer
// only inspects query text.
func (a *app) sqlAdapter(ctx context.Context) (*sqladapter.Adapter, error) {
	gen, err := a.generator()
	if err != nil {
		return nil, err
	}
	var exec sqladapter.Executor
	if a.cfg.Postgres.ExecuteQueries {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		exec = pgschema.NewExecutor(pool, a.cfg.Postgres.QueryTimeout)
	}
	return sqladapter.New(gen, sqladapter.NewAnalyzer(exec, a.logger)), nil
}

// #endregion
