package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/qrefine/internal/config"
)

var (
	cfg        config.Config
	logger     *zap.Logger
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "refine",
		Short: "Iteratively refine generated artifacts with a learned Q-table",
		Long: `refine drives a generator (a language model or a remote gRPC service)
through a loop of generate, evaluate, reward and learn until the output
satisfies its objective or the iteration budget runs out.

Learning is shared across runs: the Q-table and experience log are loaded
at startup and saved after every finished run.

  refine optimize --objective revenue.json
  refine batch objectives/*.json --concurrency 4
  refine inspect --last 10`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command. Cancelling ctx stops in-flight runs.
func Execute(ctx context.Context) error {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (REFINE_* env vars override it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err = newLogger(logLevel)
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
