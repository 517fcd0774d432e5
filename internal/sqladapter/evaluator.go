package sqladapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

// Feedback codes.
const (
	CodeMissingColumn       = "MISSING_COLUMN"
	CodeMissingFilter       = "MISSING_FILTER"
	CodeMissingEntityFilter = "MISSING_ENTITY_FILTER"
	CodeMissingJoin         = "MISSING_JOIN"
)

// Evaluator is the hard-constraint critic. It reports the first failing
// check only.
type Evaluator struct{}

func (Evaluator) Evaluate(_ context.Context, a artifact.Artifact, analysis artifact.Analysis, obj objective.Objective) (eval.Result, error) {
	return Check(a.String(), analysis, obj), nil
}

// Check runs the constraint checks in order: selected columns, declared
// filters, entity identifiers, then joins required by the data source.
func Check(sql string, analysis artifact.Analysis, obj objective.Objective) eval.Result {
	lower := strings.ToLower(sql)
	selectClause := analysis.String(KeySelectClause)
	whereClause := analysis.String(KeyWhereClause)

	for _, col := range obj.Constraints.MustInclude {
		if selectClause == "" || !strings.Contains(selectClause, strings.ToLower(col)) {
			return eval.Fail(CodeMissingColumn,
				fmt.Sprintf("Query must select column: %s", col),
				fmt.Sprintf("Add %s to SELECT clause", col))
		}
	}

	for _, f := range obj.Scope.Filters {
		value := f.Value.String()
		if whereClause == "" || !strings.Contains(whereClause, strings.ToLower(value)) {
			return eval.Fail(CodeMissingFilter,
				fmt.Sprintf("Query must filter by %s = %s", f.Field, value),
				fmt.Sprintf("Add WHERE clause filtering %s = '%s'", f.Field, value))
		}
	}

	if ids := obj.Identifiers(); len(ids) > 0 && obj.EntityType() != "" {
		for _, id := range ids {
			if !analysis.Bool(KeyUsesWhere) || !strings.Contains(lower, strings.ToLower(id)) {
				return eval.Fail(CodeMissingEntityFilter,
					fmt.Sprintf("Query must filter by %s: %s", obj.EntityType(), id),
					fmt.Sprintf("Add WHERE clause for %s = '%s'", obj.EntityType(), id))
			}
		}
	}

	if ds := obj.Constraints.DataSource; ds != "" && strings.Contains(ds, "_with_") && !analysis.Bool(KeyUsesJoin) {
		return eval.Fail(CodeMissingJoin,
			fmt.Sprintf("Query must JOIN tables for dataSource: %s", ds),
			"Add appropriate JOIN clauses based on schema relationships")
	}

	return eval.Pass()
}
