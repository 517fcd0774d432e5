package qtable

import (
	"time"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

// #region hyperparams
// Hyperparams are the Q-learning settings. They are persisted alongside the
// table so a checkpoint records what produced it.
type Hyperparams struct {
	Alpha          float64 `json:"alpha" yaml:"alpha" validate:"gt=0,lte=1"`
	Gamma          float64 `json:"gamma" yaml:"gamma" validate:"gte=0,lte=1"`
	Epsilon        float64 `json:"epsilon" yaml:"epsilon" validate:"gte=0,lte=1"`
	EpsilonDecay   float64 `json:"epsilonDecay" yaml:"epsilon_decay" validate:"gt=0,lte=1"`
	EpsilonMin     float64 `json:"epsilonMin" yaml:"epsilon_min" validate:"gte=0,lte=1"`
	MaxQTableSize  int     `json:"maxQTableSize" yaml:"max_qtable_size" validate:"gte=1"`
	MaxExperiences int     `json:"maxExperiences" yaml:"max_experiences" validate:"gte=1"`
}

// DefaultHyperparams returns the standard learning settings.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Alpha:          0.1,
		Gamma:          0.9,
		Epsilon:        0.2,
		EpsilonDecay:   0.995,
		EpsilonMin:     0.05,
		MaxQTableSize:  10000,
		MaxExperiences: 1000,
	}
}
// #endregion hyperparams

// #region update-result
// UpdateResult records one temporal-difference step.
type UpdateResult struct {
	StateKey string
	Action   action.Action
	OldValue float64
	NewValue float64
	Target   float64 // r + γ·maxNext
	MaxNext  float64
	Evicted  string // state key dropped to honour the size cap, if any
}
// #endregion update-result

// #region entry
// Entry is one (state, action) value, used for inspection.
type Entry struct {
	StateKey string        `json:"stateKey"`
	Action   action.Action `json:"action"`
	Value    float64       `json:"value"`
}
// #endregion entry

// #region snapshot
// Snapshot is the persisted form of a table:
// {version, updatedAt, hyperparams, qtable:{stateKey:{action:value}}}.
// States keep their insertion order on disk so FIFO eviction survives a
// reload.
type Snapshot struct {
	Version     int           `json:"version"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Hyperparams Hyperparams   `json:"hyperparams"`
	QTable      OrderedStates `json:"qtable"`
}

// StateValues holds the action values of one state.
type StateValues struct {
	Key    string
	Values map[action.Action]float64
}

// OrderedStates marshals as a JSON object whose keys appear in slice order.
type OrderedStates []StateValues

const snapshotVersion = 1
// #endregion snapshot
