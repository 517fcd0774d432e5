package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/qrefine/internal/optimizer"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// #region sink
// SQLiteSink writes runs and iterations to the runs and iteration_log
// tables. It satisfies optimizer.IterationSink.
type SQLiteSink struct {
	db *sql.DB
}

var _ optimizer.IterationSink = (*SQLiteSink)(nil)

// NewSQLiteSink wraps an already migrated database.
func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}
// #endregion sink

// #region write
// StartRun inserts the run row.
func (s *SQLiteSink) StartRun(ctx context.Context, info optimizer.RunInfo) error {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, objective_hash, intent, started_at) VALUES (?, ?, ?, ?)`,
		info.RunID,
		info.ObjectiveHash,
		nullIfEmpty(info.Intent),
		info.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordIteration appends one iteration to the log.
func (s *SQLiteSink) RecordIteration(ctx context.Context, runID string, l optimizer.IterationLog) error {
	created := l.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	details := IterationDetails{
		RewardDetails: l.Reward.Details,
		QValue:        l.QValue,
		Outcome:       string(l.Outcome),
	}
	if fb := l.Evaluation.Feedback; fb != nil {
		details.FeedbackMessage = fb.Message
		details.FeedbackFix = fb.Fix
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	var issuesJSON string
	if len(l.SemanticIssues) > 0 {
		b, err := json.Marshal(l.SemanticIssues)
		if err != nil {
			return fmt.Errorf("marshal semantic issues: %w", err)
		}
		issuesJSON = string(b)
	}

	var output string
	if l.Output != nil {
		output = l.Output.String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO iteration_log (run_id, iteration, action, state_key, next_state_key, passed,
			feedback_code, semantic_issues, reward_total, constraint_score, quality_score,
			details_json, output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		l.Iteration,
		string(l.Action),
		l.StateKey,
		l.NextStateKey,
		l.Evaluation.Passed,
		nullIfEmpty(l.Evaluation.FeedbackCode()),
		nullIfEmpty(issuesJSON),
		l.Reward.Total,
		l.Reward.ConstraintScore,
		l.Reward.QualityScore,
		string(detailsJSON),
		nullIfEmpty(output),
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record iteration %d: %w", l.Iteration, err)
	}
	return nil
}

// FinishRun stamps the outcome on the run row.
func (s *SQLiteSink) FinishRun(ctx context.Context, runID string, res *optimizer.Result) error {
	var output string
	if res.Output != nil {
		output = res.Output.String()
	}
	r, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, iterations = ?, final_reward = ?, output = ?, finished_at = ?
		 WHERE run_id = ?`,
		string(res.Outcome),
		res.Iterations,
		res.FinalReward,
		nullIfEmpty(output),
		time.Now().UTC().Format(time.RFC3339Nano),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
// #endregion write

// #region read
// Run loads one run row.
func (s *SQLiteSink) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, objective_hash, intent, outcome, iterations, final_reward, output, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return rec, err
}

// RecentRuns returns the newest runs first.
func (s *SQLiteSink) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, objective_hash, intent, outcome, iterations, final_reward, output, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Iterations returns a run's iterations in order.
func (s *SQLiteSink) Iterations(ctx context.Context, runID string) ([]IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, iteration, action, state_key, next_state_key, passed, feedback_code,
			semantic_issues, reward_total, constraint_score, quality_score, details_json, output, created_at
		 FROM iteration_log WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var (
			rec                                    IterationRecord
			feedback, issues, details, output      sql.NullString
			created                                string
		)
		if err := rows.Scan(&rec.RunID, &rec.Iteration, &rec.Action, &rec.StateKey, &rec.NextStateKey,
			&rec.Passed, &feedback, &issues, &rec.RewardTotal, &rec.ConstraintScore, &rec.QualityScore,
			&details, &output, &created); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		rec.FeedbackCode = feedback.String
		rec.Output = output.String
		if issues.Valid {
			if err := json.Unmarshal([]byte(issues.String), &rec.SemanticIssues); err != nil {
				return nil, fmt.Errorf("decode semantic issues: %w", err)
			}
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec                     RunRecord
		intent, outcome, output sql.NullString
		reward                  sql.NullFloat64
		started                 string
		finished                sql.NullString
	)
	if err := row.Scan(&rec.RunID, &rec.ObjectiveHash, &intent, &outcome, &rec.Iterations,
		&reward, &output, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.Intent = intent.String
	rec.Outcome = outcome.String
	rec.Output = output.String
	rec.FinalReward = reward.Float64
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	return rec, nil
}
// #endregion read

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
