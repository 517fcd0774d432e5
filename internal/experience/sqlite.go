package experience

// #region imports
import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

// #endregion

// #region sqlite-store

// SQLiteStore keeps experiences in the experiences table created by
// store.Migrate. Each Save replaces the table with the buffer contents, so
// row order is buffer order and at most capacity rows are kept.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *sql.DB, capacity int) *SQLiteStore {
	return &SQLiteStore{db: db, capacity: capacity}
}

// #endregion

// #region save

func (s *SQLiteStore) Save(ctx context.Context, exps []Experience) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if s.capacity > 0 && len(exps) > s.capacity {
		exps = exps[len(exps)-s.capacity:]
	}
	// a merge would resurrect rows that an earlier save already trimmed
	if _, err := tx.ExecContext(ctx, `DELETE FROM experiences`); err != nil {
		return fmt.Errorf("clear experiences: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO experiences
		(id, state_key, action, reward, next_state_key, terminal, objective_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range exps {
		terminal := 0
		if e.Terminal {
			terminal = 1
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			e.StateKey,
			string(e.Action),
			e.Reward,
			e.NextStateKey,
			terminal,
			e.ObjectiveHash,
			e.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert experience %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion

// #region load

func (s *SQLiteStore) Load(ctx context.Context) ([]Experience, error) {
	return s.query(ctx, `
		SELECT id, state_key, action, reward, next_state_key, terminal, objective_hash, created_at
		FROM experiences ORDER BY seq ASC`)
}

// ByObjective returns the stored experiences for one objective hash.
func (s *SQLiteStore) ByObjective(ctx context.Context, hash string) ([]Experience, error) {
	return s.query(ctx, `
		SELECT id, state_key, action, reward, next_state_key, terminal, objective_hash, created_at
		FROM experiences WHERE objective_hash = ? ORDER BY seq ASC`, hash)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Experience, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query experiences: %w", err)
	}
	defer rows.Close()

	var out []Experience
	for rows.Next() {
		var e Experience
		var act, created string
		var terminal int
		if err := rows.Scan(&e.ID, &e.StateKey, &act, &e.Reward, &e.NextStateKey, &terminal, &e.ObjectiveHash, &created); err != nil {
			return nil, fmt.Errorf("scan experience: %w", err)
		}
		e.Action = action.Action(act)
		e.Terminal = terminal == 1
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of experience %s: %w", e.ID, err)
		}
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion
