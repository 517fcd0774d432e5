package objective

import (
	"testing"
)

func TestIdentifierForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"single", `{"intent":"x","scope":{"entity":{"type":"department","identifier":"Engineering"}}}`, []string{"Engineering"}},
		{"comma string", `{"intent":"x","scope":{"entity":{"type":"department","identifier":"Sales, Marketing ,"}}}`, []string{"Sales", "Marketing"}},
		{"array", `{"intent":"x","scope":{"entity":{"type":"department","identifier":["A","B"]}}}`, []string{"A", "B"}},
		{"absent", `{"intent":"x","scope":{"entity":{"type":"department"}}}`, nil},
		{"no entity", `{"intent":"x"}`, nil},
	}
	for _, c := range cases {
		o, err := Parse([]byte(c.in))
		if err != nil {
			t.Fatalf("%s: parse: %v", c.name, err)
		}
		got := o.Identifiers()
		if len(got) != len(c.want) {
			t.Fatalf("%s: identifiers = %v, want %v", c.name, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("%s: identifiers[%d] = %q, want %q", c.name, i, got[i], c.want[i])
			}
		}
	}
}

func TestFilterValueScalars(t *testing.T) {
	o, err := Parse([]byte(`{"intent":"x","scope":{"filters":[{"field":"age","value":30},{"field":"active","value":true},{"field":"team","value":"core"}]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"30", "true", "core"}
	for i, f := range o.Scope.Filters {
		if f.Value.String() != want[i] {
			t.Errorf("filter %d value = %q, want %q", i, f.Value.String(), want[i])
		}
	}
}

func TestConstraintCount(t *testing.T) {
	o := Objective{Constraints: Constraints{MustInclude: []string{"name"}, DataSource: "employees"}}
	if got := o.ConstraintCount(); got != 2 {
		t.Fatalf("ConstraintCount = %d, want 2", got)
	}
	if !o.HasConstraints() {
		t.Fatal("expected HasConstraints")
	}
	if (Objective{}).HasConstraints() {
		t.Fatal("empty objective should have no constraints")
	}
}

func TestMaxIterationsFallback(t *testing.T) {
	if got := (Objective{}).MaxIterations(10); got != 10 {
		t.Errorf("fallback = %d", got)
	}
	o := Objective{LoopPolicy: &LoopPolicy{MaxIterations: 4}}
	if got := o.MaxIterations(10); got != 4 {
		t.Errorf("policy = %d", got)
	}
}

func TestMustIncludeAcceptsString(t *testing.T) {
	o, err := Parse([]byte(`{"intent":"x","constraints":{"mustInclude":"salary","mustAvoid":["ssn"]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(o.Constraints.MustInclude) != 1 || o.Constraints.MustInclude[0] != "salary" {
		t.Fatalf("mustInclude = %v, want [salary]", o.Constraints.MustInclude)
	}
	if len(o.Constraints.MustAvoid) != 1 || o.Constraints.MustAvoid[0] != "ssn" {
		t.Fatalf("mustAvoid = %v, want [ssn]", o.Constraints.MustAvoid)
	}
}

func TestFiltersAcceptSingleObject(t *testing.T) {
	o, err := Parse([]byte(`{"intent":"x","scope":{"filters":{"field":"region","value":"EMEA"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(o.Scope.Filters) != 1 {
		t.Fatalf("filters = %v, want one", o.Scope.Filters)
	}
	if f := o.Scope.Filters[0]; f.Field != "region" || f.Value.String() != "EMEA" {
		t.Errorf("filter = %+v", f)
	}
}

func TestLoopPolicyMaxIterationsForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"number", `{"intent":"x","loopPolicy":{"maxIterations":4}}`, 4},
		{"numeric string", `{"intent":"x","loopPolicy":{"maxIterations":"6"}}`, 6},
		{"word", `{"intent":"x","loopPolicy":{"maxIterations":"lots"}}`, 10},
		{"negative", `{"intent":"x","loopPolicy":{"maxIterations":-2}}`, 10},
		{"fraction", `{"intent":"x","loopPolicy":{"maxIterations":2.5}}`, 10},
		{"bool", `{"intent":"x","loopPolicy":{"maxIterations":true}}`, 10},
		{"not an object", `{"intent":"x","loopPolicy":"fast"}`, 10},
	}
	for _, c := range cases {
		o, err := Parse([]byte(c.in))
		if err != nil {
			t.Fatalf("%s: parse: %v", c.name, err)
		}
		if got := o.MaxIterations(10); got != c.want {
			t.Errorf("%s: MaxIterations = %d, want %d", c.name, got, c.want)
		}
	}
}
