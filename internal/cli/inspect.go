package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/qrefine/internal/logging"
)

// #region command

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show recorded runs, one run's iterations, or the learned Q-values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		last, _ := cmd.Flags().GetInt("last")
		runID, _ := cmd.Flags().GetString("run")
		top, _ := cmd.Flags().GetInt("qtable")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		w := cmd.OutOrStdout()
		switch {
		case top > 0:
			return a.inspectTable(ctx, w, top, jsonOut)
		case runID != "":
			return inspectRun(ctx, w, a.sink, runID, jsonOut)
		default:
			return listRuns(ctx, w, a.sink, last, jsonOut)
		}
	},
}

func init() {
	inspectCmd.Flags().Int("last", 20, "show N most recent runs")
	inspectCmd.Flags().String("run", "", "show the iterations of one run")
	inspectCmd.Flags().Int("qtable", 0, "show the N highest Q-values instead of runs")
	inspectCmd.Flags().Bool("json", false, "output as JSON instead of a table")
}

// #endregion

// #region list-mode

func listRuns(ctx context.Context, w io.Writer, sink *logging.SQLiteSink, last int, jsonOut bool) error {
	runs, err := sink.RecentRuns(ctx, last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-24s  %4s  %7s  %s\n", "RUN", "STARTED", "OUTCOME", "ITER", "REWARD", "INTENT")
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "(running)"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-24s  %4d  %7.1f  %s\n",
			r.RunID, r.StartedAt.Format(time.DateTime), outcome, r.Iterations, r.FinalReward, truncate(r.Intent, 50))
	}
	return nil
}

// #endregion

// #region detail-mode

type runDetail struct {
	Run        logging.RunRecord         `json:"run"`
	Iterations []logging.IterationRecord `json:"iterations"`
}

func inspectRun(ctx context.Context, w io.Writer, sink *logging.SQLiteSink, runID string, jsonOut bool) error {
	run, err := sink.Run(ctx, runID)
	if err != nil {
		return err
	}
	iters, err := sink.Iterations(ctx, runID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, runDetail{Run: run, Iterations: iters})
	}

	fmt.Fprintf(w, "run:       %s\n", run.RunID)
	fmt.Fprintf(w, "objective: %s (%s)\n", run.Intent, run.ObjectiveHash)
	fmt.Fprintf(w, "outcome:   %s, %d iteration(s), reward %.1f\n\n", run.Outcome, run.Iterations, run.FinalReward)
	for _, it := range iters {
		status := "FAIL"
		if it.Passed {
			status = "PASS"
		}
		fmt.Fprintf(w, "#%d %s %s reward=%.1f (constraint %.1f, quality %.1f) q=%.3f\n",
			it.Iteration, it.Action, status, it.RewardTotal, it.ConstraintScore, it.QualityScore, it.Details.QValue)
		if it.FeedbackCode != "" {
			fmt.Fprintf(w, "   feedback: %s %s\n", it.FeedbackCode, it.Details.FeedbackMessage)
		}
		if len(it.SemanticIssues) > 0 {
			fmt.Fprintf(w, "   semantic: %s\n", strings.Join(it.SemanticIssues, "; "))
		}
		for _, d := range it.Details.RewardDetails {
			fmt.Fprintf(w, "   %s\n", d)
		}
	}
	return nil
}

// #endregion

// #region qtable-mode

func (a *app) inspectTable(ctx context.Context, w io.Writer, n int, jsonOut bool) error {
	if err := a.table.Load(ctx, a.tablePersister); err != nil {
		return err
	}
	entries := a.table.Top(n)
	if jsonOut {
		return printJSON(w, entries)
	}
	fmt.Fprintf(w, "%d states, epsilon %.4f\n\n", a.table.Len(), a.table.Epsilon())
	for _, e := range entries {
		fmt.Fprintf(w, "%8.3f  %-16s  %s\n", e.Value, e.Action, e.StateKey)
	}
	return nil
}

// #endregion

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
