package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
	"github.com/danielpatrickdp/qrefine/internal/sqladapter"
)

// #region command

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Refine one SQL query until it satisfies an objective",
	Long: `Loads an objective JSON file, resolves the database schema (from --schema or
by introspecting REFINE_DATABASE_URL) and runs the optimization loop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		objPath, _ := cmd.Flags().GetString("objective")
		schemaPath, _ := cmd.Flags().GetString("schema")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		obj, err := objective.LoadFile(objPath)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		schema, err := a.resolveSchema(ctx, schemaPath)
		if err != nil {
			return err
		}
		adapter, err := a.sqlAdapter(ctx)
		if err != nil {
			return err
		}

		res, err := adapter.Optimize(ctx, a.opt, obj, schema)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	optimizeCmd.Flags().String("objective", "", "objective JSON file")
	optimizeCmd.Flags().String("schema", "", "schema JSON file; introspects the database when empty")
	optimizeCmd.Flags().Bool("json", false, "print the full result as JSON")
	_ = optimizeCmd.MarkFlagRequired("objective")
}

// #endregion

// #region schema

// resolveSchema prefers an explicit schema file, then live introspection,
// then an empty schema.
func (a *app) resolveSchema(ctx context.Context, path string) (pgschema.Schema, error) {
	if path != "" {
		return loadSchemaFile(path)
	}
	if a.cfg.Postgres.DatabaseURL == "" {
		a.logger.Warn("no schema given and no database configured; prompting without schema")
		return pgschema.Schema{}, nil
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return pgschema.Schema{}, err
	}
	schema, err := pgschema.NewIntrospector(pool, a.logger).Schema(ctx)
	if err != nil {
		return pgschema.Schema{}, err
	}
	a.logger.Debug("introspected schema", zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

func loadSchemaFile(path string) (pgschema.Schema, error) {
	var s pgschema.Schema
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read schema %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return s, nil
}

// #endregion

// #region output

func printResult(w io.Writer, res *sqladapter.Result) {
	fmt.Fprintf(w, "run:      %s\n", res.RunID)
	fmt.Fprintf(w, "outcome:  %s after %d iteration(s), reward %.1f\n", res.Outcome, res.Iterations, res.FinalReward)
	fmt.Fprintln(w)
	for _, l := range res.IterationLogs {
		status := "FAIL"
		if l.Evaluation.Passed {
			status = "PASS"
		}
		fmt.Fprintf(w, "  #%-2d %-16s %s  reward=%7.1f  q=%7.3f", l.Iteration, l.Action, status, l.Reward.Total, l.QValue)
		if code := l.Evaluation.FeedbackCode(); code != "" {
			fmt.Fprintf(w, "  %s", code)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, res.SQL)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion
