package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a recorded
// experience log and the Q-values replaying it must produce.
type Fixture struct {
	Description    string                  `json:"description"`
	Hyperparams    *qtable.Hyperparams     `json:"hyperparams,omitempty"`
	Passes         int                     `json:"passes,omitempty"`
	Experiences    []experience.Experience `json:"experiences"`
	ExpectedValues []FixtureExpectedValue  `json:"expected_values"`
}

// FixtureExpectedValue is one (state, action) value after replay.
type FixtureExpectedValue struct {
	StateKey string        `json:"state_key"`
	Action   action.Action `json:"action"`
	Value    float64       `json:"value"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// NewTable builds the empty table the fixture is replayed into.
func (f *Fixture) NewTable() *qtable.Table {
	hp := qtable.DefaultHyperparams()
	if f.Hyperparams != nil {
		hp = *f.Hyperparams
	}
	return qtable.New(hp)
}

// Config returns the replay config recorded in the fixture.
func (f *Fixture) Config() Config {
	return Config{Passes: f.Passes}
}

// #endregion fixture-loader
