package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/qrefine/internal/qtable"
	"github.com/danielpatrickdp/qrefine/internal/replay"
)

// errReplayMismatch makes the command exit non-zero when a fixture's
// expected values are not reproduced.
var errReplayMismatch = errors.New("replay did not reproduce expected values")

const replayTolerance = 1e-6

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-train a Q-table offline from the recorded experience log",
	Long: `With --fixture, replays a recorded log into a fresh table and checks the
expected values it lists. Otherwise replays the stored experience log into a
fresh table with the configured hyperparameters; --save writes the result
back to the Q-table store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fixturePath, _ := cmd.Flags().GetString("fixture")
		passes, _ := cmd.Flags().GetInt("passes")
		objHash, _ := cmd.Flags().GetString("objective-hash")
		save, _ := cmd.Flags().GetBool("save")
		w := cmd.OutOrStdout()

		if fixturePath != "" {
			return runFixture(w, fixturePath)
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		return a.replayLog(cmd.Context(), w, replay.Config{Passes: passes, ObjectiveHash: objHash}, save)
	},
}

func init() {
	replayCmd.Flags().String("fixture", "", "fixture JSON with experiences and expected values")
	replayCmd.Flags().Int("passes", 1, "sweeps over the experience log")
	replayCmd.Flags().String("objective-hash", "", "only replay experiences of this objective")
	replayCmd.Flags().Bool("save", false, "persist the replayed table")
}

// #region fixture-mode

func runFixture(w io.Writer, path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	table := f.NewTable()
	results := replay.Replay(table, f.Experiences, f.Config())
	printSummary(w, replay.Summarize(results, table))

	mismatches := 0
	fmt.Fprintf(w, "\n%-40s  %-16s  %10s  %10s\n", "STATE", "ACTION", "EXPECTED", "GOT")
	for _, ev := range f.ExpectedValues {
		got := table.Get(ev.StateKey, ev.Action)
		mark := ""
		if math.Abs(got-ev.Value) > replayTolerance {
			mark = "  MISMATCH"
			mismatches++
		}
		fmt.Fprintf(w, "%-40s  %-16s  %10.4f  %10.4f%s\n", truncate(ev.StateKey, 40), ev.Action, ev.Value, got, mark)
	}
	if mismatches > 0 {
		return fmt.Errorf("%w: %d of %d", errReplayMismatch, mismatches, len(f.ExpectedValues))
	}
	return nil
}

// #endregion

// #region log-mode

func (a *app) replayLog(ctx context.Context, w io.Writer, rc replay.Config, save bool) error {
	if err := a.buffer.Load(ctx, a.experienceStore); err != nil {
		return err
	}
	exps := a.buffer.All()
	if len(exps) == 0 {
		fmt.Fprintln(w, "no experiences recorded")
		return nil
	}

	table := qtable.New(a.cfg.QLearning, qtable.WithLogger(a.logger))
	results := replay.Replay(table, exps, rc)
	printSummary(w, replay.Summarize(results, table))

	if !save {
		return nil
	}
	return table.Save(ctx, a.tablePersister)
}

func printSummary(w io.Writer, s replay.Summary) {
	fmt.Fprintf(w, "updates:     %d (%d terminal, %d skipped)\n", s.Updates, s.Terminal, s.Skipped)
	fmt.Fprintf(w, "mean reward: %.2f\n", s.MeanReward)
	fmt.Fprintf(w, "mean |TD|:   %.4f\n", s.MeanAbsTD)
	fmt.Fprintf(w, "states:      %d\n", s.States)
}

// #endregion
