package qtable

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

// #endregion

// #region table-struct

// Table maps (stateKey, action) to learned values. It is safe for
// concurrent use; every run in a process shares one Table.
type Table struct {
	mu      sync.Mutex
	hp      Hyperparams
	epsilon float64
	values  map[string]map[action.Action]float64
	order   []string // insertion order, oldest first
	runs    int
	rng     *rand.Rand
	logger  *zap.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithRand sets the exploration random source.
func WithRand(rng *rand.Rand) Option {
	return func(t *Table) { t.rng = rng }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) { t.logger = l.Named("qtable") }
}

// New returns an empty table.
func New(hp Hyperparams, opts ...Option) *Table {
	t := &Table{
		hp:      hp,
		epsilon: hp.Epsilon,
		values:  make(map[string]map[action.Action]float64),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return t
}

// #endregion

// #region lookup

// InitialValue is the value of an unseen (state, action) pair. Generative
// actions start optimistic so early runs lean toward regeneration.
func InitialValue(a action.Action) float64 {
	if a.Generative() {
		return 0.5
	}
	return 0
}

// Get returns the stored value or the initial value when unseen.
func (t *Table) Get(stateKey string, a action.Action) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(stateKey, a)
}

func (t *Table) get(stateKey string, a action.Action) float64 {
	if m, ok := t.values[stateKey]; ok {
		if v, ok := m[a]; ok {
			return v
		}
	}
	return InitialValue(a)
}

// Set stores a value. When the number of distinct states exceeds the cap
// the oldest-inserted state is evicted and its key returned.
func (t *Table) Set(stateKey string, a action.Action, v float64) (evicted string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set(stateKey, a, v)
}

func (t *Table) set(stateKey string, a action.Action, v float64) string {
	m, ok := t.values[stateKey]
	if !ok {
		m = make(map[action.Action]float64)
		t.values[stateKey] = m
		t.order = append(t.order, stateKey)
	}
	m[a] = v
	if len(t.values) > t.hp.MaxQTableSize {
		return t.evictOldest()
	}
	return ""
}

// evictOldest drops the first-inserted state. Access does not refresh a
// state's position, so this is FIFO rather than LRU.
func (t *Table) evictOldest() string {
	if len(t.order) == 0 {
		return ""
	}
	oldest := t.order[0]
	t.order = t.order[1:]
	delete(t.values, oldest)
	t.logger.Debug("evicted oldest state", zap.String("state", oldest), zap.Int("size", len(t.values)))
	return oldest
}

// #endregion

// #region update

// Update applies one Q-learning step for (s, a) given reward r and the
// actions applicable at the next state. An empty next set contributes 0.
func (t *Table) Update(stateKey string, a action.Action, reward float64, nextStateKey string, nextApplicable []action.Action) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.get(stateKey, a)
	maxNext := 0.0
	for i, na := range nextApplicable {
		v := t.get(nextStateKey, na)
		if i == 0 || v > maxNext {
			maxNext = v
		}
	}
	next, target := TD(current, reward, maxNext, t.hp.Alpha, t.hp.Gamma)
	evicted := t.set(stateKey, a, next)

	return UpdateResult{
		StateKey: stateKey,
		Action:   a,
		OldValue: current,
		NewValue: next,
		Target:   target,
		MaxNext:  maxNext,
		Evicted:  evicted,
	}
}

// #endregion

// #region select

// SelectAction is epsilon-greedy over applicable. Greedy ties go to the
// action that comes first in catalog enumeration order.
func (t *Table) SelectAction(stateKey string, applicable []action.Action) action.Action {
	if len(applicable) == 0 {
		return action.UseGenerator
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rng.Float64() < t.epsilon {
		return applicable[t.rng.IntN(len(applicable))]
	}

	ordered := make([]action.Action, len(applicable))
	copy(ordered, applicable)
	sort.SliceStable(ordered, func(i, j int) bool {
		return catalogIndex(ordered[i]) < catalogIndex(ordered[j])
	})

	best := ordered[0]
	bestValue := t.get(stateKey, best)
	for _, a := range ordered[1:] {
		if v := t.get(stateKey, a); v > bestValue {
			best, bestValue = a, v
		}
	}
	return best
}

func catalogIndex(a action.Action) int {
	for i, c := range action.All {
		if c == a {
			return i
		}
	}
	return len(action.All)
}

// #endregion

// #region epsilon

// DecayEpsilon applies one per-run decay step and returns the new epsilon.
func (t *Table) DecayEpsilon() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.epsilon = max(t.hp.EpsilonMin, t.epsilon*t.hp.EpsilonDecay)
	t.logger.Debug("epsilon decayed", zap.Float64("epsilon", t.epsilon), zap.Int("runs", t.runs))
	return t.epsilon
}

// Epsilon returns the current exploration rate.
func (t *Table) Epsilon() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epsilon
}

// SetEpsilon overrides the exploration rate. Setting 0 makes selection
// fully greedy.
func (t *Table) SetEpsilon(e float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epsilon = e
}

// #endregion

// #region inspect

// Len returns the number of distinct states.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// Hyperparams returns the configured settings with the live epsilon.
func (t *Table) Hyperparams() Hyperparams {
	t.mu.Lock()
	defer t.mu.Unlock()
	hp := t.hp
	hp.Epsilon = t.epsilon
	return hp
}

// Top returns the n highest stored values.
func (t *Table) Top(n int) []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.values))
	for _, key := range t.order {
		for a, v := range t.values[key] {
			entries = append(entries, Entry{StateKey: key, Action: a, Value: v})
		}
	}
	t.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Value > entries[j].Value })
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Reset clears all values and restores the configured epsilon.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = make(map[string]map[action.Action]float64)
	t.order = nil
	t.epsilon = t.hp.Epsilon
}

// #endregion

// #region snapshot

// Snapshot copies the table into its persisted form.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make(OrderedStates, 0, len(t.order))
	for _, key := range t.order {
		vals := make(map[action.Action]float64, len(t.values[key]))
		for a, v := range t.values[key] {
			vals[a] = v
		}
		states = append(states, StateValues{Key: key, Values: vals})
	}
	hp := t.hp
	hp.Epsilon = t.epsilon
	return Snapshot{
		Version:     snapshotVersion,
		UpdatedAt:   time.Now().UTC(),
		Hyperparams: hp,
		QTable:      states,
	}
}

// Restore replaces the table contents with a snapshot. The persisted
// epsilon is the decay checkpoint and is restored; the other
// hyperparameters stay as configured. Unknown actions are skipped.
func (t *Table) Restore(s Snapshot) error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("restore qtable: unsupported version %d", s.Version)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.values = make(map[string]map[action.Action]float64, len(s.QTable))
	t.order = t.order[:0]
	for _, sv := range s.QTable {
		for a, v := range sv.Values {
			if !a.Valid() {
				continue
			}
			t.set(sv.Key, a, v)
		}
	}
	if e := s.Hyperparams.Epsilon; e >= 0 && e <= 1 {
		t.epsilon = e
	}
	return nil
}

// #endregion

// #region lifecycle

// Persister loads and saves table snapshots.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// ErrNoSnapshot is returned by a Persister that has nothing stored yet.
var ErrNoSnapshot = errors.New("no qtable snapshot")

// Load restores from p. Any failure leaves the table empty and is
// returned for the caller to log; a missing snapshot is not an error.
func (t *Table) Load(ctx context.Context, p Persister) error {
	s, err := p.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		t.logger.Info("no existing qtable, starting fresh")
		t.Reset()
		return nil
	}
	if err != nil {
		t.Reset()
		return fmt.Errorf("load qtable: %w", err)
	}
	if err := t.Restore(s); err != nil {
		t.Reset()
		return err
	}
	t.logger.Info("loaded qtable", zap.Int("states", t.Len()), zap.Float64("epsilon", t.Epsilon()))
	return nil
}

// Save writes a snapshot to p.
func (t *Table) Save(ctx context.Context, p Persister) error {
	s := t.Snapshot()
	if err := p.Save(ctx, s); err != nil {
		return fmt.Errorf("save qtable: %w", err)
	}
	t.logger.Info("saved qtable", zap.Int("states", len(s.QTable)))
	return nil
}

// #endregion
