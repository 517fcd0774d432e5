package reward

// #region imports
import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

// #endregion

// #region types

// Components is a reward breakdown. Total always equals
// ConstraintScore + QualityScore; the two parts are never renormalized.
type Components struct {
	Total           float64  `json:"total"`
	ConstraintScore float64  `json:"constraintScore"`
	QualityScore    float64  `json:"qualityScore"`
	Details         []string `json:"details"`
}

// Metrics are the execution measurements a reward engine scores.
// Pointer fields are nil when the analyzer did not report them.
type Metrics struct {
	ExecutionTime    *float64 // milliseconds
	OutputSize       *int
	ExpectedSize     *int
	RowCount         *int
	ExpectedRowCount *int
	// HasErrors is set when the evaluator failed or execution errored.
	HasErrors bool
	// ExecutionFailed is set only when running the artifact errored.
	ExecutionFailed bool
	Custom          map[string]float64
}

// Executed reports whether any execution measurement is present.
func (m Metrics) Executed() bool {
	return m.ExecutionTime != nil || m.RowCount != nil || m.ExecutionFailed
}

// Engine scores one evaluated artifact.
type Engine interface {
	Reward(a artifact.Artifact, obj objective.Objective, ev eval.Result, m Metrics) Components
}

// SemanticPenalty is applied per semantic issue.
const SemanticPenalty = -15.0

// #endregion

// #region metrics

// Analysis keys read by MetricsFromAnalysis.
const (
	KeyExecutionTime    = "executionTime"
	KeySize             = "size"
	KeyLength           = "length"
	KeyRowCount         = "rowCount"
	KeyExpectedRowCount = "expectedRowCount"
	KeyExecutionError   = "executionError"
	KeyCustomMetrics    = "customMetrics"
)

// MetricsFromAnalysis lifts execution measurements out of an analysis.
func MetricsFromAnalysis(analysis artifact.Analysis, obj objective.Objective, ev eval.Result) Metrics {
	m := Metrics{ExpectedSize: obj.ExpectedSize}
	if v, ok := analysis.Float(KeyExecutionTime); ok {
		m.ExecutionTime = &v
	}
	if v, ok := analysis.Int(KeySize); ok {
		m.OutputSize = &v
	} else if v, ok := analysis.Int(KeyLength); ok {
		m.OutputSize = &v
	}
	if v, ok := analysis.Int(KeyRowCount); ok {
		m.RowCount = &v
	}
	if v, ok := analysis.Int(KeyExpectedRowCount); ok {
		m.ExpectedRowCount = &v
	}
	switch e := analysis[KeyExecutionError].(type) {
	case bool:
		m.ExecutionFailed = e
	case string:
		m.ExecutionFailed = e != ""
	case error:
		m.ExecutionFailed = e != nil
	}
	m.HasErrors = !ev.Passed || m.ExecutionFailed
	m.Custom = customMetrics(analysis[KeyCustomMetrics])
	return m
}

func customMetrics(v any) map[string]float64 {
	switch c := v.(type) {
	case map[string]float64:
		return c
	case map[string]any:
		a := artifact.Analysis(c)
		out := make(map[string]float64, len(c))
		for k := range c {
			if f, ok := a.Float(k); ok {
				out[k] = f
			}
		}
		return out
	}
	return nil
}

// #endregion

// #region default-engine

// Default is the domain-agnostic reward: binary constraint credit plus
// quality adjustments for errors, speed, size fit and custom metrics.
type Default struct{}

func (Default) Reward(_ artifact.Artifact, _ objective.Objective, ev eval.Result, m Metrics) Components {
	var c Components

	if ev.Passed {
		c.ConstraintScore = 60
		c.add("all constraints satisfied (+60)")
	} else {
		code := ev.FeedbackCode()
		if code == "" {
			code = "UNKNOWN"
		}
		c.add(fmt.Sprintf("constraints failed: %s (+0)", code))
	}

	if m.HasErrors {
		c.QualityScore -= 30
		c.add("errors (-30)")
	} else {
		c.QualityScore += 10
		c.add("no errors (+10)")
	}

	if m.ExecutionTime != nil {
		t := *m.ExecutionTime
		switch {
		case t < 50:
			c.QualityScore += 15
			c.add(fmt.Sprintf("fast execution: %.0fms (+15)", t))
		case t < 100:
			c.QualityScore += 10
			c.add(fmt.Sprintf("good execution: %.0fms (+10)", t))
		case t > 1000:
			c.QualityScore -= 10
			c.add(fmt.Sprintf("slow execution: %.0fms (-10)", t))
		}
	}

	if m.OutputSize != nil && m.ExpectedSize != nil && *m.ExpectedSize != 0 {
		ratio := math.Abs(float64(*m.OutputSize-*m.ExpectedSize)) / float64(*m.ExpectedSize)
		switch {
		case ratio < 0.1:
			c.QualityScore += 10
			c.add("size within 10% of expected (+10)")
		case ratio > 0.5:
			c.QualityScore -= 5
			c.add("size off by more than 50% (-5)")
		}
	}

	names := make([]string, 0, len(m.Custom))
	for name := range m.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := m.Custom[name]
		c.QualityScore += v
		c.add(fmt.Sprintf("custom metric %s: %+g", name, v))
	}

	c.Total = c.ConstraintScore + c.QualityScore
	return c
}

func (c *Components) add(detail string) {
	c.Details = append(c.Details, detail)
}

// #endregion

// #region penalty

// ApplySemanticPenalty subtracts 15 per issue from both the quality score
// and the total. It runs after any domain engine so no engine can opt out.
func ApplySemanticPenalty(c Components, issues []string) Components {
	if len(issues) == 0 {
		return c
	}
	penalty := SemanticPenalty * float64(len(issues))
	details := make([]string, len(c.Details), len(c.Details)+1)
	copy(details, c.Details)
	c.Details = append(details, fmt.Sprintf("semantic issues: %d (%+g)", len(issues), penalty))
	c.QualityScore += penalty
	c.Total = c.ConstraintScore + c.QualityScore
	return c
}

// #endregion
