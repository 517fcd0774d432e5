package logging

import "time"

// #region run-record
// RunRecord is a single row in the runs table.
type RunRecord struct {
	RunID         string
	ObjectiveHash string
	Intent        string
	Outcome       string // "" while the run is in flight
	Iterations    int
	FinalReward   float64
	Output        string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
// #endregion run-record

// #region iteration-record
// IterationRecord is a single row in the iteration_log table.
type IterationRecord struct {
	RunID           string
	Iteration       int
	Action          string
	StateKey        string
	NextStateKey    string
	Passed          bool
	FeedbackCode    string
	SemanticIssues  []string
	RewardTotal     float64
	ConstraintScore float64
	QualityScore    float64
	Details         IterationDetails
	Output          string
	CreatedAt       time.Time
}

// IterationDetails is serialized as JSON into iteration_log.details_json so
// a run can be audited without re-executing it.
type IterationDetails struct {
	RewardDetails   []string `json:"reward_details"`
	FeedbackMessage string   `json:"feedback_message,omitempty"`
	FeedbackFix     string   `json:"feedback_fix,omitempty"`
	QValue          float64  `json:"q_value"`
	Outcome         string   `json:"outcome"`
}
// #endregion iteration-record
