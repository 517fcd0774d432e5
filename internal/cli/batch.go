package cli

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/sqladapter"
)

// batchCmd runs several objectives against one shared Q-table, so later
// runs benefit from what earlier ones learned.
var batchCmd = &cobra.Command{
	Use:   "batch <objective.json>...",
	Short: "Optimize several objectives concurrently with shared learning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		schemaPath, _ := cmd.Flags().GetString("schema")
		keepGoing, _ := cmd.Flags().GetBool("keep-going")
		ctx := cmd.Context()

		objs := make([]objective.Objective, len(args))
		for i, path := range args {
			obj, err := objective.LoadFile(path)
			if err != nil {
				return err
			}
			objs[i] = obj
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

		results := make([]*sqladapter.Result, len(objs))
		var (
			mu     sync.Mutex
			failed int
		)
		g, gctx := errgroup.WithContext(ctx)
		if concurrency > 0 {
			g.SetLimit(concurrency)
		}
		for i, obj := range objs {
			g.Go(func() error {
				res, err := adapter.Optimize(gctx, a.opt, obj, schema)
				if err != nil {
					if !keepGoing {
						return fmt.Errorf("%s: %w", args[i], err)
					}
					logger.Error("run failed", zap.String("objective", args[i]), zap.Error(err))
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		converged := 0
		for i, res := range results {
			if res == nil {
				fmt.Fprintf(w, "%-40s  error\n", args[i])
				continue
			}
			if res.Converged {
				converged++
			}
			fmt.Fprintf(w, "%-40s  %-24s  iterations=%-2d  reward=%6.1f  run=%s\n",
				args[i], res.Outcome, res.Iterations, res.FinalReward, res.RunID)
		}
		fmt.Fprintf(w, "\n%d/%d converged, %d failed, epsilon now %.4f, %d states learned\n",
			converged, len(objs), failed, a.table.Epsilon(), a.table.Len())
		return nil
	},
}

func init() {
	batchCmd.Flags().Int("concurrency", 4, "maximum concurrent runs (0 = unlimited)")
	batchCmd.Flags().String("schema", "", "schema JSON file; introspects the database when empty")
	batchCmd.Flags().Bool("keep-going", false, "log failed runs instead of stopping the batch")
}
