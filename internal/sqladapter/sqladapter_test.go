package sqladapter

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/qrefine/internal/action"
	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/experience"
	"github.com/danielpatrickdp/qrefine/internal/gate"
	"github.com/danielpatrickdp/qrefine/internal/llm"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/optimizer"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
	"github.com/danielpatrickdp/qrefine/internal/qtable"
	"github.com/danielpatrickdp/qrefine/internal/reward"
)

const (
	unfilteredSQL = "SELECT name, salary FROM employees"
	filteredSQL   = "SELECT name, salary FROM employees WHERE department = 'Engineering'"
)

func engineeringObjective() objective.Objective {
	return objective.Objective{
		Intent: "List Engineering employees with their salary",
		Domain: "sql",
		Scope: objective.Scope{
			Entity: &objective.Entity{Type: "department", Identifier: objective.Identifiers{"Engineering"}},
		},
		Constraints: objective.Constraints{
			DataSource:  "employees",
			MustInclude: []string{"name", "salary"},
		},
	}
}

func employeesSchema() pgschema.Schema {
	return pgschema.Schema{Tables: []pgschema.Table{{
		Name: "employees",
		Columns: []pgschema.Column{
			{Name: "name", Type: "text"},
			{Name: "salary", Type: "numeric"},
			{Name: "department", Type: "text"},
		},
	}}}
}

// #region scenarios

// A model that only adds the filter once the critic has said so converges on
// the second iteration.
func TestScenario_FeedbackAddsFilter(t *testing.T) {
	var prompts []string
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		prompts = append(prompts, req.Prompt)
		if strings.Contains(req.Prompt, "CRITIC FEEDBACK") {
			return "```sql\n" + filteredSQL + "\n```", nil
		}
		return unfilteredSQL, nil
	})

	hp := qtable.DefaultHyperparams()
	hp.Epsilon = 0
	table := qtable.New(hp)
	opt := optimizer.New(table, experience.NewBuffer(100, nil),
		optimizer.WithRand(rand.New(rand.NewPCG(1, 1))),
		optimizer.WithLogger(zaptest.NewLogger(t)))
	adapter := New(NewGenerator(model, nil), nil)

	res, err := adapter.Optimize(context.Background(), opt, engineeringObjective(), employeesSchema())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, gate.OutcomeConverged, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, filteredSQL, res.SQL)
	assert.Equal(t, 120.0, res.FinalReward)

	require.Len(t, res.IterationLogs, 2)
	first := res.IterationLogs[0]
	assert.Equal(t, action.UseGenerator, first.Action)
	assert.Equal(t, CodeMissingEntityFilter, first.Evaluation.FeedbackCode())
	assert.Len(t, first.SemanticIssues, 1)
	assert.Equal(t, 50.0, first.Reward.Total)
	assert.InDelta(t, 5.495, first.QValue, 1e-9)

	second := res.IterationLogs[1]
	assert.True(t, second.Evaluation.Passed)
	assert.Empty(t, second.SemanticIssues)

	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "PREVIOUS SQL:\n"+unfilteredSQL)
	assert.Contains(t, prompts[2], `"code": "MISSING_ENTITY_FILTER"`)
}

func TestScenario_AggregatedJoinWins(t *testing.T) {
	obj := objective.Objective{
		Intent:      "Employees with their teams",
		Constraints: objective.Constraints{DataSource: "employees_with_teams"},
	}
	plain := "SELECT e.name AS employee_name, t.team_name AS team FROM employees e " +
		"JOIN employee_teams et ON e.employee_id = et.employee_id " +
		"JOIN teams t ON et.team_id = t.team_id ORDER BY e.name"
	aggregated := "SELECT e.name AS employee_name, ARRAY_AGG(t.team_name) AS teams FROM employees e " +
		"JOIN employee_teams et ON e.employee_id = et.employee_id " +
		"JOIN teams t ON et.team_id = t.team_id GROUP BY e.name ORDER BY e.name"

	score := func(sql string) reward.Components {
		a := artifact.Text(sql)
		ev := Check(sql, Explain(sql), obj)
		require.True(t, ev.Passed, "fixture query should satisfy the critic: %+v", ev.Feedback)
		return Reward{}.Reward(a, obj, ev, reward.Metrics{})
	}

	p, g := score(plain), score(aggregated)
	assert.GreaterOrEqual(t, g.Total-p.Total, 20.0)
	assert.Equal(t, 50.0, PatternBonus(aggregated, obj)-PatternBonus(plain, obj))
	assert.Equal(t, p.Total, p.ConstraintScore+p.QualityScore)
	assert.Equal(t, g.Total, g.ConstraintScore+g.QualityScore)
}

// #endregion

// #region explain

func TestExplain(t *testing.T) {
	sql := "SELECT e.name, COUNT(t.team_id)\nFROM employees e\nJOIN employee_teams et ON e.employee_id = et.employee_id\n" +
		"LEFT JOIN teams t ON t.team_id = et.team_id\nWHERE e.active = true\nGROUP BY e.name"

	a := Explain(sql)
	assert.True(t, a.Bool(KeyUsesJoin))
	assert.True(t, a.Bool(KeyUsesWhere))
	assert.True(t, a.Bool(KeyHasAggregation))
	assert.Equal(t, []string{"employee_teams", "teams"}, a.Strings(KeyJoinedTables))
	assert.Equal(t, "e.active = true", a.String(KeyWhereClause))
	assert.Equal(t, "e.name, count(t.team_id)", a.String(KeySelectClause))
}

func TestExplain_NoAggregationInIdentifiers(t *testing.T) {
	a := Explain("SELECT summary, minimum_wage FROM roles")
	assert.False(t, a.Bool(KeyHasAggregation))
	assert.False(t, a.Bool(KeyUsesWhere))
	assert.Empty(t, a.String(KeyWhereClause))
}

type fakeExecutor struct {
	exec pgschema.Execution
	err  error
}

func (f fakeExecutor) Execute(context.Context, string) (pgschema.Execution, error) {
	return f.exec, f.err
}

func TestAnalyzer_AddsExecutionMetrics(t *testing.T) {
	an := NewAnalyzer(fakeExecutor{exec: pgschema.Execution{ExecutionTime: 12.5, Rows: 7}}, nil)

	a, err := an.Analyze(context.Background(), artifact.Text(filteredSQL))
	require.NoError(t, err)

	m := reward.MetricsFromAnalysis(a, objective.Objective{}, eval.Pass())
	require.True(t, m.Executed())
	assert.Equal(t, 12.5, *m.ExecutionTime)
	assert.Equal(t, 7, *m.RowCount)
	assert.Equal(t, 15.0, ExecutionBonus(m))
}

func TestExecutionBonus_IgnoresEvaluatorFailure(t *testing.T) {
	an := NewAnalyzer(fakeExecutor{exec: pgschema.Execution{ExecutionTime: 12.5, Rows: 7}}, nil)

	a, err := an.Analyze(context.Background(), artifact.Text(unfilteredSQL))
	require.NoError(t, err)

	obj := engineeringObjective()
	ev := Check(unfilteredSQL, a, obj)
	require.False(t, ev.Passed)

	m := reward.MetricsFromAnalysis(a, obj, ev)
	require.True(t, m.HasErrors)
	require.False(t, m.ExecutionFailed)
	assert.Equal(t, 15.0, ExecutionBonus(m))
}

func TestAnalyzer_ExecutionFailureIsAFeature(t *testing.T) {
	an := NewAnalyzer(fakeExecutor{err: errors.New(`relation "employes" does not exist`)}, zaptest.NewLogger(t))

	a, err := an.Analyze(context.Background(), artifact.Text("SELECT name FROM employes"))
	require.NoError(t, err)

	m := reward.MetricsFromAnalysis(a, objective.Objective{}, eval.Pass())
	assert.True(t, m.ExecutionFailed)
	assert.True(t, m.HasErrors)
	assert.Equal(t, -20.0, ExecutionBonus(m))
}

// #endregion

// #region evaluator

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		obj  func() objective.Objective
		code string
	}{
		{
			name: "missing column",
			sql:  "SELECT name FROM employees WHERE department = 'Engineering'",
			obj:  engineeringObjective,
			code: CodeMissingColumn,
		},
		{
			name: "missing entity filter",
			sql:  unfilteredSQL,
			obj:  engineeringObjective,
			code: CodeMissingEntityFilter,
		},
		{
			name: "missing declared filter",
			sql:  "SELECT name, salary FROM employees WHERE level = 3",
			obj: func() objective.Objective {
				o := engineeringObjective()
				o.Scope.Entity = nil
				o.Scope.Filters = []objective.Filter{{Field: "region", Value: objective.NewFilterValue("EMEA")}}
				return o
			},
			code: CodeMissingFilter,
		},
		{
			name: "missing join",
			sql:  filteredSQL,
			obj: func() objective.Objective {
				o := engineeringObjective()
				o.Constraints.DataSource = "employees_with_compensation"
				return o
			},
			code: CodeMissingJoin,
		},
		{
			name: "passes",
			sql:  filteredSQL,
			obj:  engineeringObjective,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.sql, Explain(tt.sql), tt.obj())
			assert.Equal(t, tt.code == "", res.Passed)
			assert.Equal(t, tt.code, res.FeedbackCode())
		})
	}
}

func TestCheck_NumericFilterValue(t *testing.T) {
	obj := objective.Objective{Scope: objective.Scope{
		Filters: []objective.Filter{{Field: "level", Value: objective.NewFilterValue(3.0)}},
	}}
	sql := "SELECT name FROM employees WHERE level = 3"
	assert.True(t, Check(sql, Explain(sql), obj).Passed)
}

// #endregion

// #region reward

func TestPartialCredit(t *testing.T) {
	assert.Equal(t, 50.0, PartialCredit(unfilteredSQL, engineeringObjective()))

	obj := engineeringObjective()
	obj.Scope.Timeframe = &objective.Timeframe{Value: "30", Unit: "days"}
	sql := "SELECT name, salary, department FROM employees WHERE created_at > now() - interval '30 days'"
	assert.Equal(t, 90.0, PartialCredit(sql, obj), "capped at 90")

	assert.Equal(t, 0.0, PartialCredit("WITH x AS (SELECT 1) SELECT * FROM x", objective.Objective{}))
}

func TestEntityColumn(t *testing.T) {
	assert.Equal(t, "merchant_name", EntityColumn("Merchants"))
	assert.Equal(t, "category", EntityColumn("category"))
	assert.Equal(t, "department", EntityColumn("department"))
}

func TestSimplicityAndSpecificity(t *testing.T) {
	assert.Equal(t, 15.0, SimplicityBonus(unfilteredSQL))
	assert.Equal(t, 10.0, SimplicityBonus(strings.Repeat("x", 150)))
	assert.Equal(t, 5.0, SimplicityBonus(strings.Repeat("x", 250)))
	assert.Equal(t, -5.0, SimplicityBonus(strings.Repeat("x", 300)))

	assert.Equal(t, -5.0, SpecificityBonus("SELECT * FROM employees"))
	assert.Equal(t, 5.0, SpecificityBonus(unfilteredSQL))
	assert.Equal(t, 0.0, SpecificityBonus("SELECT a, b, c, d, e, f FROM t"))
}

func TestCostBonus(t *testing.T) {
	sub := "SELECT name FROM employees WHERE department_id IN (SELECT id FROM departments)"
	assert.Equal(t, -15.0, CostBonus(sub))
	assert.Equal(t, -5.0, CostBonus(unfilteredSQL))
	assert.Equal(t, 0.0, CostBonus(filteredSQL))
	left := "SELECT e.name FROM employees e LEFT JOIN teams t ON t.id = e.team_id GROUP BY e.name ORDER BY e.name"
	assert.Equal(t, 20.0+10+15+5, CostBonus(left))
}

func TestExecutionBonus_Clamped(t *testing.T) {
	ms, rows, want := 10.0, 12, 12
	m := reward.Metrics{ExecutionTime: &ms, RowCount: &rows, ExpectedRowCount: &want}
	assert.Equal(t, 20.0, ExecutionBonus(m))

	slow, none := 2000.0, 0
	far := 500
	m = reward.Metrics{ExecutionTime: &slow, RowCount: &none, ExpectedRowCount: &far}
	assert.Equal(t, -10.0, ExecutionBonus(m))
}

func TestReward_SkipsExecutionWithoutMeasurements(t *testing.T) {
	c := Reward{}.Reward(artifact.Text(filteredSQL), engineeringObjective(), eval.Pass(), reward.Metrics{})
	assert.Equal(t, 120.0, c.Total)
	for _, d := range c.Details {
		assert.NotContains(t, d, "execution")
	}
}

// #endregion

// #region policy

func TestPolicy_ApplicableActions(t *testing.T) {
	p := NewPolicy()
	obj := engineeringObjective()

	assert.Equal(t, []action.Action{action.UseGenerator, action.Refine, action.Expand},
		p.ApplicableActions(artifact.Text(unfilteredSQL), obj, 1))
	assert.Equal(t, []action.Action{action.UseGenerator, action.Refine, action.Reset},
		p.ApplicableActions(artifact.Text(filteredSQL), obj, 4))
	assert.Equal(t, []action.Action{action.UseGenerator},
		p.ApplicableActions(artifact.Text(""), obj, 2))

	joins := "SELECT a.x FROM a JOIN b ON 1=1 JOIN c ON 1=1 JOIN d ON 1=1 JOIN e ON 1=1 JOIN f ON 1=1 WHERE a.x = 1"
	assert.Contains(t, p.ApplicableActions(artifact.Text(joins), obj, 1), action.Simplify)
}

func TestPolicy_ExtractState(t *testing.T) {
	p := NewPolicy()
	sql := "SELECT e.name FROM employees e JOIN teams t ON t.id = e.team_id WHERE t.name = 'core'"
	s := p.ExtractState(artifact.Text(sql), engineeringObjective(), Explain(sql), 2)

	assert.Equal(t, true, s.Features["usesJoin"])
	assert.Equal(t, true, s.Features["usesWhere"])
	assert.Equal(t, false, s.Features["hasAggregation"])
	assert.Equal(t, 1, s.Features["joinCount"])

	plain := NewPolicy().Default.ExtractState(artifact.Text(sql), engineeringObjective(), nil, 2)
	assert.Equal(t, plain.Key(), s.Key(), "query-shape features do not change the table key")
	assert.Equal(t, Threshold, p.ConvergenceThreshold())
}

// #endregion

// #region generator

func TestGenerator_StripsFences(t *testing.T) {
	var seen llm.Request
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		seen = req
		return "```sql\nSELECT 1\n```", nil
	})

	out, err := NewGenerator(model, nil).Generate(context.Background(), optimizer.GenerateRequest{
		Objective: engineeringObjective(),
		Context:   employeesSchema(),
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.Text("SELECT 1"), out)
	assert.Equal(t, 0.1, seen.Temperature)
	assert.Equal(t, systemPrompt, seen.System)
	assert.Contains(t, seen.Prompt, "- Table: employees\n  Columns: name (text), salary (numeric), department (text)")
	assert.NotContains(t, seen.Prompt, "PREVIOUS SQL")
	assert.NotContains(t, seen.Prompt, "FOREIGN KEY RELATIONSHIPS")
}

func TestGenerator_EmptyAfterFences(t *testing.T) {
	model := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) { return "```sql\n```", nil })

	_, err := NewGenerator(model, nil).Generate(context.Background(), optimizer.GenerateRequest{})
	assert.True(t, errors.Is(err, ErrNoSQL))
}

func TestGenerator_RejectsUnknownContext(t *testing.T) {
	model := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) { return "SELECT 1", nil })

	_, err := NewGenerator(model, nil).Generate(context.Background(), optimizer.GenerateRequest{Context: 42})
	assert.Error(t, err)
}

func TestGenerator_DecodesRemoteSchema(t *testing.T) {
	var seen llm.Request
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		seen = req
		return "SELECT 1", nil
	})
	remote := map[string]any{
		"tables": []any{map[string]any{
			"name":    "employees",
			"columns": []any{map[string]any{"name": "salary", "type": "numeric"}},
		}},
	}

	_, err := NewGenerator(model, nil).WithSampling(0.4, 512).Generate(context.Background(), optimizer.GenerateRequest{
		Objective: engineeringObjective(),
		Context:   remote,
	})
	require.NoError(t, err)
	assert.Contains(t, seen.Prompt, "- Table: employees\n  Columns: salary (numeric)")
	assert.Equal(t, 0.4, seen.Temperature)
	assert.Equal(t, 512, seen.MaxTokens)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripFences("  ```\nSELECT 1\n```  "))
	assert.Equal(t, "SELECT 1", StripFences("SELECT 1"))
}

// #endregion
