package pgschema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrEmptyPlan is returned when EXPLAIN produced no plan.
var ErrEmptyPlan = errors.New("explain returned no plan")

// #region plan

// Execution is what one EXPLAIN ANALYZE run reports.
type Execution struct {
	ExecutionTime float64 // ms
	PlanningTime  float64 // ms
	Rows          int
	TotalCost     float64
	NodeType      string
}

type explainOutput []struct {
	Plan struct {
		NodeType   string  `json:"Node Type"`
		ActualRows float64 `json:"Actual Rows"`
		TotalCost  float64 `json:"Total Cost"`
	} `json:"Plan"`
	PlanningTime  float64 `json:"Planning Time"`
	ExecutionTime float64 `json:"Execution Time"`
}

// ParsePlan decodes the output of EXPLAIN (ANALYZE, FORMAT JSON).
func ParsePlan(raw []byte) (Execution, error) {
	var out explainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Execution{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(out) == 0 {
		return Execution{}, ErrEmptyPlan
	}
	p := out[0]
	return Execution{
		ExecutionTime: p.ExecutionTime,
		PlanningTime:  p.PlanningTime,
		Rows:          int(p.Plan.ActualRows),
		TotalCost:     p.Plan.TotalCost,
		NodeType:      p.Plan.NodeType,
	}, nil
}

// #endregion

// #region executor

// Executor runs candidate queries under EXPLAIN ANALYZE inside a read-only
// transaction that is always rolled back.
type Executor struct {
	conn    Conn
	timeout time.Duration
}

// NewExecutor wraps a connection. A zero timeout means 5s.
func NewExecutor(conn Conn, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{conn: conn, timeout: timeout}
}

// Execute measures one query.
func (e *Executor) Execute(ctx context.Context, query string) (Execution, error) {
	tx, err := e.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return Execution{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
		return Execution{}, fmt.Errorf("set statement timeout: %w", err)
	}

	var raw []byte
	if err := tx.QueryRow(ctx, "EXPLAIN (ANALYZE, FORMAT JSON) "+query).Scan(&raw); err != nil {
		return Execution{}, fmt.Errorf("explain analyze: %w", err)
	}
	return ParsePlan(raw)
}

// #endregion
