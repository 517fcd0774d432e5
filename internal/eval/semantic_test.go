package eval

import (
	"strings"
	"testing"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

func entityObjective(intent string, ids ...string) objective.Objective {
	return objective.Objective{
		Intent: intent,
		Scope: objective.Scope{
			Entity: &objective.Entity{Type: "department", Identifier: ids},
		},
	}
}

func TestValidatorPassesMatchingOutput(t *testing.T) {
	v := NewIntentValidator()
	obj := entityObjective("employees in Engineering", "Engineering")
	res := v.Validate(artifact.Text("SELECT name FROM employees WHERE department = 'Engineering'"), obj, nil)
	if !res.SemanticsMatch {
		t.Fatalf("expected match, got issues %v", res.Issues)
	}
	if len(res.Checks) == 0 {
		t.Fatal("expected checks to be recorded")
	}
}

func TestValidatorMissingIdentifier(t *testing.T) {
	v := NewIntentValidator()
	obj := entityObjective("employees in Engineering", "Engineering")
	res := v.Validate(artifact.Text("SELECT name FROM employees"), obj, nil)
	if res.SemanticsMatch || len(res.Issues) != 1 {
		t.Fatalf("expected one issue, got %v", res.Issues)
	}
}

func TestValidatorExclusion(t *testing.T) {
	v := NewIntentValidator()
	obj := entityObjective("all staff except Sales", "Sales")

	res := v.Validate(artifact.Text("SELECT * FROM employees WHERE department = 'sales'"), obj, nil)
	if res.SemanticsMatch {
		t.Fatal("positive reference to excluded entity should be flagged")
	}

	res = v.Validate(artifact.Text("SELECT * FROM employees WHERE department != 'sales'"), obj, nil)
	if !res.SemanticsMatch {
		t.Fatalf("negated filter should pass, got %v", res.Issues)
	}
}

func TestValidatorAllVersusAggregation(t *testing.T) {
	v := NewIntentValidator()
	obj := objective.Objective{Intent: "show all orders"}
	agg := artifact.Analysis{"hasAggregation": true}

	if res := v.Validate(artifact.Text("SELECT count(*) FROM orders"), obj, agg); res.SemanticsMatch {
		t.Fatal("aggregation under an 'all' intent should be flagged")
	}
	obj.Intent = "total of all orders"
	if res := v.Validate(artifact.Text("SELECT count(*) FROM orders"), obj, agg); !res.SemanticsMatch {
		t.Fatalf("'total' intent should allow aggregation, got %v", res.Issues)
	}
	obj.Intent = "list small orders"
	if res := v.Validate(artifact.Text("SELECT count(*) FROM orders"), obj, agg); !res.SemanticsMatch {
		t.Fatalf("'small' must not match 'all', got %v", res.Issues)
	}
}

func TestValidatorFilters(t *testing.T) {
	v := NewIntentValidator()
	obj := objective.Objective{
		Intent: "orders over 30",
		Scope: objective.Scope{Filters: []objective.Filter{
			{Field: "amount", Value: objective.NewFilterValue(30.0)},
			{Field: "status", Value: objective.NewFilterValue("shipped")},
		}},
	}
	res := v.Validate(artifact.Text("SELECT id FROM orders WHERE amount > 30"), obj, nil)
	if len(res.Issues) != 1 || !strings.Contains(res.Issues[0], "shipped") {
		t.Fatalf("issues = %v, want one about status", res.Issues)
	}
}

func TestValidatorGenericChecks(t *testing.T) {
	v := NewIntentValidator()
	min := 0.8
	obj := objective.Objective{Intent: "summary", ExpectedType: "object", MinQuality: &min}
	res := v.Validate(artifact.Text(""), obj, artifact.Analysis{"quality": 0.5})
	if len(res.Issues) != 3 {
		t.Fatalf("issues = %v, want empty/type/quality", res.Issues)
	}
}
