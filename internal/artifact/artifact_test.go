package artifact

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestLenAndEmpty(t *testing.T) {
	cases := []struct {
		name  string
		a     Artifact
		len   int
		empty bool
	}{
		{"text", Text("héllo"), 5, false},
		{"blank text", Text("   \n"), 4, true},
		{"sequence", Sequence{1.0, 2.0}, 2, false},
		{"empty sequence", Sequence{}, 0, true},
		{"record", Record{"a": 1.0}, 1, false},
		{"empty record", Record{}, 0, true},
	}
	for _, c := range cases {
		if got := c.a.Len(); got != c.len {
			t.Errorf("%s: Len = %d, want %d", c.name, got, c.len)
		}
		if got := c.a.IsEmpty(); got != c.empty {
			t.Errorf("%s: IsEmpty = %v, want %v", c.name, got, c.empty)
		}
	}
}

func TestTextComplexity(t *testing.T) {
	// 10 runes, 2 words: length 0.01, avg word length 5 -> 0.5
	got := Text("abcd efghi").Complexity()
	want := (0.01 + 0.5) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("complexity = %f, want %f", got, want)
	}
}

func TestStructuralComplexity(t *testing.T) {
	flat := Sequence{1.0, 2.0}
	if got, want := flat.Complexity(), (2.0/100)/1.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("flat sequence complexity = %f, want %f", got, want)
	}
	nested := Record{"a": map[string]any{"b": 1.0}}
	if got, want := nested.Complexity(), (1.0/50+0.5)/1.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("nested record complexity = %f, want %f", got, want)
	}
}

func TestPerturbLeavesShortInputsAlone(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	if got := Text("two words").Perturb(rng); got != Text("two words") {
		t.Errorf("two-word text perturbed to %q", got)
	}
	seq := Sequence{"a", "b"}
	got := seq.Perturb(rng).(Sequence)
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("two-element sequence perturbed to %v", got)
	}
}

func TestPerturbPreservesTokens(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	orig := Sequence{"a", "b", "c", "d"}
	got := orig.Perturb(rng).(Sequence)
	if len(got) != len(orig) {
		t.Fatalf("len = %d, want %d", len(got), len(orig))
	}
	seen := map[any]int{}
	for _, v := range got {
		seen[v]++
	}
	for _, v := range orig {
		if seen[v] != 1 {
			t.Errorf("element %v appears %d times", v, seen[v])
		}
	}
	if orig[0] != "a" || orig[3] != "d" {
		t.Errorf("original mutated: %v", orig)
	}
}

func TestTruncate(t *testing.T) {
	if got := Text("0123456789").Truncate(0.8); got != Text("01234567") {
		t.Errorf("text truncate = %q", got)
	}
	if got := (Sequence{1.0, 2.0, 3.0, 4.0, 5.0}).Truncate(0.8).(Sequence); len(got) != 4 {
		t.Errorf("sequence truncate len = %d, want 4", len(got))
	}
	rec := Record{"e": 5.0, "a": 1.0, "c": 3.0, "b": 2.0, "d": 4.0}
	got := rec.Truncate(0.8).(Record)
	if len(got) != 4 {
		t.Fatalf("record truncate len = %d, want 4", len(got))
	}
	if _, ok := got["e"]; ok {
		t.Errorf("expected last sorted key to be dropped, got %v", got)
	}
}

func TestParse(t *testing.T) {
	if a := Parse([]byte("SELECT 1")); a.Kind() != KindText {
		t.Errorf("raw text parsed as %s", a.Kind())
	}
	if a := Parse([]byte(`[1,2]`)); a.Kind() != KindSequence || a.Len() != 2 {
		t.Errorf("array parsed as %s/%d", a.Kind(), a.Len())
	}
	if a := Parse([]byte(`{"k":"v"}`)); a.Kind() != KindRecord {
		t.Errorf("object parsed as %s", a.Kind())
	}
}

func TestAnalysisGetters(t *testing.T) {
	a := Analysis{"n": 3, "f": 1.5, "b": true, "s": "x", "l": []any{"p", 1.0, "q"}}
	if v, ok := a.Int("n"); !ok || v != 3 {
		t.Errorf("Int = %d/%v", v, ok)
	}
	if v, ok := a.Float("f"); !ok || v != 1.5 {
		t.Errorf("Float = %f/%v", v, ok)
	}
	if !a.Bool("b") || a.Bool("missing") {
		t.Error("Bool getter wrong")
	}
	if got := a.Strings("l"); len(got) != 2 {
		t.Errorf("Strings = %v", got)
	}
	merged := a.Merge(Analysis{"s": "y"})
	if merged.String("s") != "y" || a.String("s") != "x" {
		t.Error("Merge should override without mutating the receiver")
	}
}
