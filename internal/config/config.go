package config

// #region imports
import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/qrefine/internal/optimizer"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
)

// #endregion

// #region types

// Config is the full runtime configuration of the refine CLI.
type Config struct {
	QLearning qtable.Hyperparams `yaml:"qlearning"`
	Optimizer OptimizerConfig    `yaml:"optimizer"`
	Storage   StorageConfig      `yaml:"storage"`
	LLM       LLMConfig          `yaml:"llm"`
	Postgres  PostgresConfig     `yaml:"postgres"`
	Metrics   MetricsConfig      `yaml:"metrics"`
}

type OptimizerConfig struct {
	MaxIterations   int           `yaml:"max_iterations" validate:"gte=1"`
	PersistLearning bool          `yaml:"persist_learning"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" validate:"gt=0"`
	Seed            uint64        `yaml:"seed"`
}

// StorageConfig says where learning state lives. When RedisURL is set the
// Q-table snapshot goes to Redis instead of QTablePath. Experiences go to
// the SQLite database unless ExperiencePath names a JSON file.
type StorageConfig struct {
	QTablePath     string `yaml:"qtable_path"`
	ExperiencePath string `yaml:"experience_path"`
	SQLitePath     string `yaml:"sqlite_path" validate:"required"`
	RedisURL       string `yaml:"redis_url"`
	RedisKey       string `yaml:"redis_key"`
}

type LLMConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=openai anthropic grpc"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Temperature       float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=1"`
	GRPCAddr          string  `yaml:"grpc_addr" validate:"required_if=Provider grpc"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

type PostgresConfig struct {
	DatabaseURL    string        `yaml:"database_url"`
	ExecuteQueries bool          `yaml:"execute_queries"`
	QueryTimeout   time.Duration `yaml:"query_timeout" validate:"gte=0"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// #endregion

// #region defaults

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		QLearning: qtable.DefaultHyperparams(),
		Optimizer: OptimizerConfig{
			MaxIterations:   optimizer.DefaultMaxIterations,
			PersistLearning: true,
			GenerateTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			QTablePath: "qtable.json",
			SQLitePath: "refine.db",
			RedisKey:   "qrefine:qtable",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.1,
			MaxTokens:   2048,
			GRPCAddr:    "localhost:50051",
			Burst:       1,
		},
		Postgres: PostgresConfig{
			QueryTimeout: 5 * time.Second,
		},
	}
}

// #endregion

// #region load

// Load reads path (if non-empty) over the defaults, applies REFINE_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks ranges on every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.QLearning.EpsilonMin > c.QLearning.Epsilon {
		return fmt.Errorf("invalid config: epsilon_min %.3f exceeds epsilon %.3f", c.QLearning.EpsilonMin, c.QLearning.Epsilon)
	}
	return nil
}

// #endregion

// #region env

func applyEnv(c *Config) error {
	c.Storage.SQLitePath = envOr("REFINE_DB", c.Storage.SQLitePath)
	c.Storage.QTablePath = envOr("REFINE_QTABLE_PATH", c.Storage.QTablePath)
	c.Storage.ExperiencePath = envOr("REFINE_EXPERIENCE_PATH", c.Storage.ExperiencePath)
	c.Storage.RedisURL = envOr("REFINE_REDIS_URL", c.Storage.RedisURL)
	c.LLM.Provider = envOr("REFINE_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("REFINE_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envOr("REFINE_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.GRPCAddr = envOr("REFINE_GENERATOR_ADDR", c.LLM.GRPCAddr)
	c.Postgres.DatabaseURL = envOr("REFINE_DATABASE_URL", c.Postgres.DatabaseURL)
	c.Metrics.ListenAddr = envOr("REFINE_METRICS_ADDR", c.Metrics.ListenAddr)

	if v := os.Getenv("REFINE_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REFINE_MAX_ITERATIONS: %w", err)
		}
		c.Optimizer.MaxIterations = n
	}
	if v := os.Getenv("REFINE_EPSILON"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REFINE_EPSILON: %w", err)
		}
		c.QLearning.Epsilon = f
	}
	if v := os.Getenv("REFINE_PERSIST_LEARNING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REFINE_PERSIST_LEARNING: %w", err)
		}
		c.Optimizer.PersistLearning = b
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion
