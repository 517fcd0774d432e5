package reward

import (
	"testing"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

func ptr[T any](v T) *T { return &v }

func TestDefaultPassedFastExactSize(t *testing.T) {
	m := Metrics{ExecutionTime: ptr(20.0), OutputSize: ptr(100), ExpectedSize: ptr(105)}
	c := Default{}.Reward(artifact.Text("x"), objective.Objective{}, eval.Pass(), m)
	// 60 + 10 + 15 + 10
	if c.Total != 95 || c.ConstraintScore != 60 || c.QualityScore != 35 {
		t.Fatalf("got %+v", c)
	}
}

func TestDefaultFailedWithErrors(t *testing.T) {
	ev := eval.Fail("MISSING_COLUMN", "missing", "add it")
	m := Metrics{HasErrors: true, ExecutionTime: ptr(1500.0), OutputSize: ptr(10), ExpectedSize: ptr(100)}
	c := Default{}.Reward(artifact.Text("x"), objective.Objective{}, ev, m)
	// 0 + (-30 -10 -5)
	if c.Total != -45 || c.ConstraintScore != 0 {
		t.Fatalf("got %+v", c)
	}
}

func TestDefaultCustomMetrics(t *testing.T) {
	m := Metrics{Custom: map[string]float64{"readability": 4, "tone": -1}}
	c := Default{}.Reward(artifact.Text("x"), objective.Objective{}, eval.Pass(), m)
	if c.QualityScore != 13 {
		t.Fatalf("quality = %f, want 13", c.QualityScore)
	}
}

func TestSemanticPenaltyKeepsSum(t *testing.T) {
	c := Components{Total: 120, ConstraintScore: 100, QualityScore: 20}
	got := ApplySemanticPenalty(c, []string{"a", "b"})
	if got.QualityScore != -10 || got.Total != 90 {
		t.Fatalf("got %+v", got)
	}
	if got.Total != got.ConstraintScore+got.QualityScore {
		t.Fatal("total != constraint + quality")
	}
	if same := ApplySemanticPenalty(c, nil); same.Total != 120 {
		t.Fatalf("no issues changed total to %f", same.Total)
	}
}

func TestMetricsFromAnalysis(t *testing.T) {
	a := artifact.Analysis{
		KeyExecutionTime: 42.0,
		KeyLength:        12,
		KeyRowCount:      3,
		KeyCustomMetrics: map[string]any{"bonus": 2.0, "label": "skip"},
	}
	m := MetricsFromAnalysis(a, objective.Objective{ExpectedSize: ptr(12)}, eval.Pass())
	if m.ExecutionTime == nil || *m.ExecutionTime != 42 {
		t.Errorf("execution time = %v", m.ExecutionTime)
	}
	if m.OutputSize == nil || *m.OutputSize != 12 {
		t.Errorf("output size = %v", m.OutputSize)
	}
	if m.HasErrors {
		t.Error("passing evaluation without execution error should not have errors")
	}
	if len(m.Custom) != 1 || m.Custom["bonus"] != 2 {
		t.Errorf("custom = %v", m.Custom)
	}
	if !m.Executed() {
		t.Error("expected Executed")
	}

	failed := MetricsFromAnalysis(artifact.Analysis{KeyExecutionError: "syntax error"}, objective.Objective{}, eval.Pass())
	if !failed.ExecutionFailed || !failed.HasErrors {
		t.Errorf("execution error not detected: %+v", failed)
	}
	if !MetricsFromAnalysis(nil, objective.Objective{}, eval.Fail("X", "", "")).HasErrors {
		t.Error("failed evaluation should count as errors")
	}
}
