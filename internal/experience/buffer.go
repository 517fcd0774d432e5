package experience

// #region imports
import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

// #endregion

// #region types

// Experience is one recorded transition. The online learner does not read
// these back; they feed offline replay and inspection.
type Experience struct {
	ID            string        `json:"id"`
	StateKey      string        `json:"stateKey"`
	Action        action.Action `json:"action"`
	Reward        float64       `json:"reward"`
	NextStateKey  string        `json:"nextStateKey"`
	Terminal      bool          `json:"terminal"`
	Timestamp     time.Time     `json:"timestamp"`
	ObjectiveHash string        `json:"objectiveHash"`
}

// Store persists the whole buffer.
type Store interface {
	Load(ctx context.Context) ([]Experience, error)
	Save(ctx context.Context, exps []Experience) error
}

// #endregion

// #region buffer

// Buffer is an append-only, FIFO-capped experience log shared by every
// run in the process.
type Buffer struct {
	mu       sync.Mutex
	items    []Experience
	capacity int
	logger   *zap.Logger
}

// NewBuffer returns an empty buffer holding at most capacity entries.
func NewBuffer(capacity int, logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, logger: logger.Named("experience")}
}

// Add appends e, assigning an ID and timestamp when missing, and drops the
// oldest entry once the cap is exceeded.
func (b *Buffer) Add(e Experience) Experience {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, e)
	if len(b.items) > b.capacity {
		b.items = b.items[len(b.items)-b.capacity:]
	}
	return e
}

// Len returns the number of stored experiences.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// All returns a copy of the buffer, oldest first.
func (b *Buffer) All() []Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Experience, len(b.items))
	copy(out, b.items)
	return out
}

// ByObjective returns the experiences recorded for one objective hash.
func (b *Buffer) ByObjective(hash string) []Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Experience
	for _, e := range b.items {
		if e.ObjectiveHash == hash {
			out = append(out, e)
		}
	}
	return out
}

// #endregion

// #region lifecycle

// Load replaces the buffer with the store's contents, keeping the newest
// entries when the store holds more than the cap. On failure the buffer is
// emptied and the error returned for logging.
func (b *Buffer) Load(ctx context.Context, s Store) error {
	exps, err := s.Load(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.items = nil
		return fmt.Errorf("load experiences: %w", err)
	}
	if len(exps) > b.capacity {
		exps = exps[len(exps)-b.capacity:]
	}
	b.items = exps
	b.logger.Info("loaded experiences", zap.Int("count", len(exps)))
	return nil
}

// Save writes the buffer to s.
func (b *Buffer) Save(ctx context.Context, s Store) error {
	exps := b.All()
	if err := s.Save(ctx, exps); err != nil {
		return fmt.Errorf("save experiences: %w", err)
	}
	b.logger.Info("saved experiences", zap.Int("count", len(exps)))
	return nil
}

// #endregion
