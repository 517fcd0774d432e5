package sqladapter

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/reward"
)

var (
	specificityRe = regexp.MustCompile(`(?is)SELECT\s+(.*?)\s+FROM`)
	aliasRe       = regexp.MustCompile(`\sas\s[a-z]`)
)

// entityColumns maps entity types whose column name differs from the type.
var entityColumns = map[string]string{
	"merchant":  "merchant_name",
	"merchants": "merchant_name",
	"category":  "category",
}

// #region engine

type scoreLine struct {
	name  string
	value float64
}

// Reward scores queries: full constraint credit when the critic passes,
// otherwise graded partial credit capped at 90, plus idiom bonuses.
type Reward struct{}

var _ reward.Engine = Reward{}

func (Reward) Reward(a artifact.Artifact, obj objective.Objective, ev eval.Result, m reward.Metrics) reward.Components {
	sql := a.String()
	var c reward.Components

	if ev.Passed {
		c.ConstraintScore = 100
		c.Details = append(c.Details, "all constraints satisfied (+100)")
	} else {
		c.ConstraintScore = PartialCredit(sql, obj)
		c.Details = append(c.Details, fmt.Sprintf("partial constraints (%g/100)", c.ConstraintScore))
		if ev.Feedback != nil {
			c.Details = append(c.Details, "issue: "+ev.Feedback.Message)
		}
	}

	bonuses := []scoreLine{
		{"simplicity", SimplicityBonus(sql)},
		{"specificity", SpecificityBonus(sql)},
		{"query optimization", CostBonus(sql)},
		{"query patterns", PatternBonus(sql, obj)},
	}
	if m.Executed() {
		bonuses = append(bonuses, scoreLine{"execution", ExecutionBonus(m)})
	}
	for _, b := range bonuses {
		if b.value == 0 {
			continue
		}
		c.QualityScore += b.value
		c.Details = append(c.Details, fmt.Sprintf("%s: %+g", b.name, b.value))
	}

	c.Total = c.ConstraintScore + c.QualityScore
	return c
}

// #endregion

// #region components

// PartialCredit grades a failing query: date filtering when a timeframe is
// set (30), the entity column (30), required columns pro rata (40) and being
// a SELECT at all (10), capped at 90.
func PartialCredit(sql string, obj objective.Objective) float64 {
	lower := strings.ToLower(sql)
	score := 0.0

	if tf := obj.Scope.Timeframe; tf != nil && tf.Value != "" {
		if strings.Contains(lower, "created_at") || strings.Contains(lower, "date") {
			score += 30
		}
	}

	if t := obj.EntityType(); t != "" {
		if strings.Contains(lower, strings.ToLower(EntityColumn(t))) {
			score += 30
		}
	}

	if must := obj.Constraints.MustInclude; len(must) > 0 {
		found := 0
		for _, f := range must {
			if strings.Contains(lower, strings.ToLower(f)) {
				found++
			}
		}
		score += float64(found) / float64(len(must)) * 40
	}

	if strings.HasPrefix(lower, "select") {
		score += 10
	}
	return math.Min(score, 90)
}

// EntityColumn maps an entity type to the column that identifies it.
func EntityColumn(entityType string) string {
	if col, ok := entityColumns[strings.ToLower(entityType)]; ok {
		return col
	}
	return entityType
}

// SimplicityBonus favours short queries.
func SimplicityBonus(sql string) float64 {
	n := utf8.RuneCountInString(sql)
	switch {
	case n < 100:
		return 15
	case n < 200:
		return 10
	case n < 300:
		return 5
	}
	return -5
}

// SpecificityBonus penalizes SELECT * and rewards a short explicit column
// list.
func SpecificityBonus(sql string) float64 {
	if strings.Contains(sql, "SELECT *") {
		return -5
	}
	m := specificityRe.FindStringSubmatch(sql)
	if m == nil {
		return 0
	}
	if cols := strings.Split(m[1], ","); len(cols) <= 5 {
		return 5
	}
	return 0
}

// CostBonus rewards joins over subqueries, aggregation of one-to-many rows,
// LEFT JOIN, GROUP BY and ORDER BY.
func CostBonus(sql string) float64 {
	lower := strings.ToLower(sql)
	bonus := 0.0

	hasSubquery := strings.Contains(lower, "where") && (strings.Contains(lower, "in (select") ||
		strings.Contains(lower, "in ( select") ||
		strings.Contains(lower, "exists (select"))
	hasJoin := strings.Contains(lower, "join")

	switch {
	case hasJoin && !hasSubquery:
		bonus += 20
	case hasSubquery:
		bonus -= 15
	}
	if strings.Contains(lower, "array_agg") && strings.Contains(lower, "group by") {
		bonus += 25
	}
	if strings.Contains(lower, "left join") {
		bonus += 10
	}
	if strings.Contains(lower, "group by") {
		bonus += 15
	}
	if strings.Contains(lower, "select *") && !strings.Contains(lower, "select * from") {
		bonus -= 5
	}
	if !strings.Contains(lower, "where") && !strings.Contains(lower, "group by") {
		bonus -= 5
	}
	if strings.Contains(lower, "order by") {
		bonus += 5
	}
	return bonus
}

// PatternBonus rewards deduplicating one-to-many joins (ARRAY_AGG with
// GROUP BY +30, DISTINCT +10, neither −20), starting from the main entity
// (+5) and consistent aliasing (+5).
func PatternBonus(sql string, obj objective.Objective) float64 {
	lower := strings.ToLower(sql)
	bonus := 0.0

	oneToMany := strings.Contains(obj.Constraints.DataSource, "_with_") ||
		strings.Contains(lower, "employee_teams") ||
		strings.Contains(lower, "teams")
	if oneToMany {
		grouped := strings.Contains(lower, "group by")
		distinct := strings.Contains(lower, "distinct")
		switch {
		case strings.Contains(lower, "array_agg") && grouped:
			bonus += 30
		case distinct:
			bonus += 10
		case !grouped:
			bonus -= 20
		}
	}

	if strings.Contains(lower, "from employees") && strings.Contains(lower, "join") {
		bonus += 5
	}
	if len(aliasRe.FindAllString(lower, -1)) >= 2 {
		bonus += 5
	}
	return bonus
}

// ExecutionBonus scores measured execution, clamped to [−20, 20]. Only a
// failed execution draws the penalty; an evaluator failure does not.
func ExecutionBonus(m reward.Metrics) float64 {
	if m.ExecutionFailed {
		return -20
	}
	bonus := 0.0
	if m.ExecutionTime != nil {
		switch t := *m.ExecutionTime; {
		case t < 50:
			bonus += 10
		case t < 100:
			bonus += 5
		case t > 1000:
			bonus -= 5
		}
	}
	if m.RowCount != nil && m.ExpectedRowCount != nil {
		diff := *m.RowCount - *m.ExpectedRowCount
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			bonus += 10
		case diff < 5:
			bonus += 5
		case diff > 100:
			bonus -= 5
		}
	}
	if m.RowCount != nil && *m.RowCount > 0 {
		bonus += 5
	}
	return math.Max(-20, math.Min(20, bonus))
}

// #endregion
