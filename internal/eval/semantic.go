package eval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

// #region intent-validator
// IntentValidator is the default semantic validator. It compares the
// objective's wording and scope against the artifact text.
type IntentValidator struct{}

// NewIntentValidator returns the default validator.
func NewIntentValidator() *IntentValidator {
	return &IntentValidator{}
}

var (
	wantsAllRe    = regexp.MustCompile(`\ball\b`)
	exclusionRe   = regexp.MustCompile(`\b(except|excluding)\b`)
	negationMarks = []string{"!=", "<>", "not in"}
)

// Validate runs every check and collects the failures as issues.
func (v *IntentValidator) Validate(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis) SemanticResult {
	var checks []SemanticCheck
	var issues []string
	record := func(name string, found []string) {
		checks = append(checks, SemanticCheck{Name: name, Pass: len(found) == 0})
		issues = append(issues, found...)
	}

	text := strings.ToLower(a.String())
	intent := strings.ToLower(obj.Intent)
	excluding := exclusionRe.MatchString(intent)

	// 1. Output must exist
	var empty []string
	if a.IsEmpty() {
		empty = append(empty, "output is empty")
	}
	record("non_empty", empty)

	// 2. Declared type
	var typed []string
	if want := normalizeKind(obj.ExpectedType); want != "" && want != a.Kind() {
		typed = append(typed, fmt.Sprintf("expected %s output, got %s", want, a.Kind()))
	}
	record("expected_type", typed)

	// 3. Minimum quality reported by the analyzer
	var quality []string
	if obj.MinQuality != nil {
		if q, ok := analysis.Float("quality"); ok && q < *obj.MinQuality {
			quality = append(quality, fmt.Sprintf("quality %.2f below minimum %.2f", q, *obj.MinQuality))
		}
	}
	record("min_quality", quality)

	// 4. Exclusion requested but identifier referenced positively
	var exclusion []string
	if excluding && !containsAny(text, negationMarks) {
		for _, id := range obj.Identifiers() {
			term := strings.ToLower(id)
			if strings.Contains(text, "'"+term+"'") || strings.Contains(text, `"`+term+`"`) {
				exclusion = append(exclusion, fmt.Sprintf("intent excludes %q but output may include it", id))
			}
		}
	}
	record("exclusion", exclusion)

	// 5. "All records" requested but output aggregates
	var aggregation []string
	if wantsAllRe.MatchString(intent) && !strings.Contains(intent, "total") && aggregates(analysis) {
		aggregation = append(aggregation, "intent asks for all records but output aggregates")
	}
	record("no_aggregation", aggregation)

	// 6. Declared filters (or entity identifiers) present
	var scope []string
	if len(obj.Scope.Filters) > 0 {
		for _, f := range obj.Scope.Filters {
			field := strings.ToLower(f.Field)
			value := strings.ToLower(f.Value.String())
			if !strings.Contains(text, field) || !strings.Contains(text, value) {
				scope = append(scope, fmt.Sprintf("intent mentions %q (%s) but output doesn't filter by it", f.Value.String(), f.Field))
			}
		}
	} else if !excluding {
		for _, id := range obj.Identifiers() {
			if !strings.Contains(text, strings.ToLower(id)) {
				scope = append(scope, fmt.Sprintf("intent mentions %q but output doesn't filter by it", id))
			}
		}
	}
	record("scope", scope)

	return SemanticResult{
		SemanticsMatch: len(issues) == 0,
		Issues:         issues,
		Checks:         checks,
	}
}
// #endregion intent-validator

// #region helpers
func aggregates(analysis artifact.Analysis) bool {
	return analysis.Bool("hasAggregation") || analysis.Bool("aggregation")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// normalizeKind accepts the artifact kind names and their JSON spellings.
func normalizeKind(s string) artifact.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "text", "string":
		return artifact.KindText
	case "sequence", "array", "list":
		return artifact.KindSequence
	case "record", "object", "map":
		return artifact.KindRecord
	}
	return artifact.Kind(s)
}
// #endregion helpers
