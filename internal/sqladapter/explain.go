package sqladapter

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
	"github.com/danielpatrickdp/qrefine/internal/reward"
)

// Analysis keys produced by Explain.
const (
	KeyUsesJoin       = "usesJoin"
	KeyJoinedTables   = "joinedTables"
	KeyUsesWhere      = "usesWhere"
	KeyWhereClause    = "whereClause"
	KeySelectClause   = "selectClause"
	KeyHasAggregation = "hasAggregation"
)

var (
	joinRe        = regexp.MustCompile(`join\s+(\w+)`)
	whereRe       = regexp.MustCompile(`(?s)where\s+(.+?)(?:group by|order by|limit|$)`)
	selectRe      = regexp.MustCompile(`(?s)select\s+(.+?)\s+from`)
	aggregationRe = regexp.MustCompile(`\b(sum|avg|count|min|max)\s*\(`)
)

// #region explain

// Explain reads the structure of a query with regular expressions. It never
// touches a database.
func Explain(sql string) artifact.Analysis {
	lower := strings.ToLower(sql)

	var joined []string
	for _, m := range joinRe.FindAllStringSubmatch(lower, -1) {
		joined = append(joined, m[1])
	}

	a := artifact.Analysis{
		KeyUsesJoin:       strings.Contains(lower, "join"),
		KeyJoinedTables:   joined,
		KeyUsesWhere:      strings.Contains(lower, "where"),
		KeyHasAggregation: aggregationRe.MatchString(lower),
		reward.KeyLength:  len(sql),
	}
	if m := whereRe.FindStringSubmatch(lower); m != nil {
		a[KeyWhereClause] = strings.TrimSpace(m[1])
	}
	if m := selectRe.FindStringSubmatch(lower); m != nil {
		a[KeySelectClause] = strings.TrimSpace(m[1])
	}
	return a
}

// #endregion

// #region analyzer

// Executor measures a query against a live database.
type Executor interface {
	Execute(ctx context.Context, query string) (pgschema.Execution, error)
}

// Analyzer explains queries and, when an executor is configured, runs them
// under EXPLAIN ANALYZE to add execution time and row count. Execution
// failures become an executionError feature instead of an error.
type Analyzer struct {
	executor Executor
	logger   *zap.Logger
}

// NewAnalyzer builds an analyzer. Both arguments may be nil.
func NewAnalyzer(executor Executor, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{executor: executor, logger: logger.Named("sqladapter")}
}

func (an *Analyzer) Analyze(ctx context.Context, a artifact.Artifact) (artifact.Analysis, error) {
	sql := a.String()
	analysis := Explain(sql)
	if an.executor == nil {
		return analysis, nil
	}

	exec, err := an.executor.Execute(ctx, sql)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		an.logger.Debug("query execution failed", zap.Error(err))
		analysis[reward.KeyExecutionError] = err.Error()
		return analysis, nil
	}
	analysis[reward.KeyExecutionTime] = exec.ExecutionTime
	analysis[reward.KeyRowCount] = exec.Rows
	return analysis, nil
}

// #endregion
