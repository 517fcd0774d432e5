package replay

import (
	"math"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
)

// #region types
// Config controls an offline replay.
type Config struct {
	// Passes is how many times the log is swept. Zero means one.
	Passes int
	// ObjectiveHash restricts the replay to one objective when set.
	ObjectiveHash string
}

// Result captures one replayed transition.
type Result struct {
	Pass       int
	Experience experience.Experience
	Update     qtable.UpdateResult
	TDError    float64 // target − old value
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Updates    int
	Terminal   int
	Skipped    int
	MeanReward float64
	MeanAbsTD  float64
	States     int
}
// #endregion types

// #region replay
// Replay re-applies the Q update to table for every recorded transition,
// oldest first. The applicable set at the next state is not recorded, so
// the bootstrap takes the max over the whole catalog; terminal transitions
// bootstrap from zero.
func Replay(table *qtable.Table, exps []experience.Experience, cfg Config) []Result {
	passes := cfg.Passes
	if passes <= 0 {
		passes = 1
	}

	results := make([]Result, 0, len(exps)*passes)
	for pass := 1; pass <= passes; pass++ {
		for _, e := range exps {
			if cfg.ObjectiveHash != "" && e.ObjectiveHash != cfg.ObjectiveHash {
				continue
			}
			if !e.Action.Valid() {
				results = append(results, Result{Pass: pass, Experience: e})
				continue
			}

			var next []action.Action
			if !e.Terminal {
				next = action.All
			}
			upd := table.Update(e.StateKey, e.Action, e.Reward, e.NextStateKey, next)
			results = append(results, Result{
				Pass:       pass,
				Experience: e,
				Update:     upd,
				TDError:    upd.Target - upd.OldValue,
			})
		}
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result, table *qtable.Table) Summary {
	s := Summary{States: table.Len()}
	var rewardSum, tdSum float64
	for _, r := range results {
		if r.Update.StateKey == "" {
			s.Skipped++
			continue
		}
		s.Updates++
		if r.Experience.Terminal {
			s.Terminal++
		}
		rewardSum += r.Experience.Reward
		tdSum += math.Abs(r.TDError)
	}
	if s.Updates > 0 {
		s.MeanReward = rewardSum / float64(s.Updates)
		s.MeanAbsTD = tdSum / float64(s.Updates)
	}
	return s
}
// #endregion replay
