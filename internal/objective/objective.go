package objective

// #region imports
import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// #endregion

// #region types

// Objective is the structured description of what a run should produce.
// It is immutable for the duration of a run and hashed for state identity.
type Objective struct {
	Intent          string             `json:"intent"`
	Domain          string             `json:"domain,omitempty"`
	Scope           Scope              `json:"scope"`
	Constraints     Constraints        `json:"constraints"`
	SuccessCriteria map[string]float64 `json:"success_criteria,omitempty"`
	LoopPolicy      *LoopPolicy        `json:"loopPolicy,omitempty"`
	ExpectedSize    *int               `json:"expectedSize,omitempty"`
	ExpectedType    string             `json:"expectedType,omitempty"`
	MinQuality      *float64           `json:"minQuality,omitempty"`
}

// Scope narrows what the artifact should cover.
type Scope struct {
	Entity    *Entity    `json:"entity,omitempty"`
	Filters   Filters    `json:"filters,omitempty"`
	Timeframe *Timeframe `json:"timeframe,omitempty"`
}

// Entity names the main subject and the identifiers it must be restricted to.
type Entity struct {
	Type       string      `json:"type"`
	Identifier Identifiers `json:"identifier,omitempty"`
}

// Filter is a field/value pair the artifact must filter by.
type Filter struct {
	Field string      `json:"field"`
	Value FilterValue `json:"value"`
}

// Timeframe is a loosely specified time window ("last 30 days").
type Timeframe struct {
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

// Constraints are the hard requirements checked by an evaluator.
type Constraints struct {
	DataSource  string   `json:"dataSource,omitempty"`
	MustInclude Strings `json:"mustInclude,omitempty"`
	MustAvoid   Strings `json:"mustAvoid,omitempty"`
	Tone        string  `json:"tone,omitempty"`
	Style       string  `json:"style,omitempty"`
}

// LoopPolicy carries per-objective loop settings.
type LoopPolicy struct {
	MaxIterations int `json:"maxIterations,omitempty"`
}

// #endregion

// #region identifiers

// Identifiers accepts either a JSON string or an array of strings. A
// comma-separated string is split into trimmed values.
type Identifiers []string

func (ids *Identifiers) UnmarshalJSON(b []byte) error {
	var list []any
	if err := json.Unmarshal(b, &list); err == nil {
		out := make(Identifiers, 0, len(list))
		for _, v := range list {
			if v == nil {
				continue
			}
			out = append(out, fmt.Sprint(v))
		}
		*ids = out
		return nil
	}
	var single any
	if err := json.Unmarshal(b, &single); err != nil {
		return fmt.Errorf("decode identifier: %w", err)
	}
	switch v := single.(type) {
	case nil:
		*ids = nil
	case string:
		*ids = SplitIdentifiers(v)
	default:
		*ids = Identifiers{fmt.Sprint(v)}
	}
	return nil
}

// SplitIdentifiers splits a comma-separated identifier list.
func SplitIdentifiers(s string) Identifiers {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if !strings.Contains(s, ",") {
		return Identifiers{s}
	}
	parts := strings.Split(s, ",")
	out := make(Identifiers, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Strings accepts a JSON array or a single scalar, which becomes a
// one-element list.
type Strings []string

func (ss *Strings) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	switch v := v.(type) {
	case nil:
		*ss = nil
	case []any:
		out := make(Strings, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		*ss = out
	case string:
		if strings.TrimSpace(v) == "" {
			*ss = nil
			return nil
		}
		*ss = Strings{v}
	default:
		*ss = Strings{fmt.Sprint(v)}
	}
	return nil
}

// Filters accepts a JSON array of filters or a single filter object.
type Filters []Filter

func (fs *Filters) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case trimmed == "null":
		*fs = nil
		return nil
	case strings.HasPrefix(trimmed, "{"):
		var f Filter
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("decode filter: %w", err)
		}
		*fs = Filters{f}
		return nil
	}
	var list []Filter
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("decode filters: %w", err)
	}
	*fs = list
	return nil
}

// #endregion

// #region loop-policy

// UnmarshalJSON reads maxIterations as a number or a numeric string.
// Anything else leaves it unset so the configured cap applies.
func (lp *LoopPolicy) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		*lp = LoopPolicy{}
		return nil
	}
	*lp = LoopPolicy{MaxIterations: positiveInt(raw["maxIterations"])}
	return nil
}

func positiveInt(v any) int {
	var f float64
	switch v := v.(type) {
	case float64:
		f = v
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// #endregion

// #region filter-value

// FilterValue holds any JSON scalar and compares by its string form.
type FilterValue struct {
	raw any
}

// NewFilterValue wraps a scalar.
func NewFilterValue(v any) FilterValue { return FilterValue{raw: v} }

func (f FilterValue) String() string {
	if f.raw == nil {
		return ""
	}
	return fmt.Sprint(f.raw)
}

// Raw returns the decoded scalar.
func (f FilterValue) Raw() any { return f.raw }

func (f *FilterValue) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode filter value: %w", err)
	}
	f.raw = v
	return nil
}

func (f FilterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.raw)
}

// #endregion

// #region accessors

// Identifiers returns the entity identifiers, or nil when no entity is set.
func (o Objective) Identifiers() []string {
	if o.Scope.Entity == nil {
		return nil
	}
	return o.Scope.Entity.Identifier
}

// EntityType returns the entity type, or "" when no entity is set.
func (o Objective) EntityType() string {
	if o.Scope.Entity == nil {
		return ""
	}
	return o.Scope.Entity.Type
}

// ConstraintCount is the number of constraint fields that carry a value.
func (o Objective) ConstraintCount() int {
	c := o.Constraints
	n := 0
	if c.DataSource != "" {
		n++
	}
	if len(c.MustInclude) > 0 {
		n++
	}
	if len(c.MustAvoid) > 0 {
		n++
	}
	if c.Tone != "" {
		n++
	}
	if c.Style != "" {
		n++
	}
	return n
}

// HasConstraints reports whether any constraint field is set.
func (o Objective) HasConstraints() bool {
	return o.ConstraintCount() > 0
}

// MaxIterations returns the loop policy cap, or fallback when unset.
func (o Objective) MaxIterations(fallback int) int {
	if o.LoopPolicy != nil && o.LoopPolicy.MaxIterations > 0 {
		return o.LoopPolicy.MaxIterations
	}
	return fallback
}

// #endregion

// #region load

// Parse decodes an objective from JSON.
func Parse(b []byte) (Objective, error) {
	var o Objective
	if err := json.Unmarshal(b, &o); err != nil {
		return Objective{}, fmt.Errorf("parse objective: %w", err)
	}
	return o, nil
}

// LoadFile reads and decodes an objective file.
func LoadFile(path string) (Objective, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Objective{}, fmt.Errorf("read objective %s: %w", path, err)
	}
	return Parse(data)
}

// #endregion
