package artifact

// #region imports
import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode/utf8"
)

// #endregion

// #region kind

// Kind names the variant of an Artifact.
type Kind string

const (
	KindText     Kind = "text"
	KindSequence Kind = "sequence"
	KindRecord   Kind = "record"
)

// #endregion

// #region artifact

// Artifact is the candidate output produced by a generator. The set of
// variants is closed: Text, Sequence and Record. Artifacts are values and
// every transformation returns a new one.
type Artifact interface {
	Kind() Kind
	// Len is runes for text, elements for a sequence, keys for a record.
	Len() int
	IsEmpty() bool
	// Complexity is a heuristic in [0,1] used only to gate actions.
	Complexity() float64
	// Perturb swaps two randomly chosen tokens or elements.
	Perturb(rng *rand.Rand) Artifact
	// Truncate keeps the leading fraction of the artifact.
	Truncate(fraction float64) Artifact
	// Value returns the plain Go value used for hashing and transport.
	Value() any
	String() string

	sealed()
}

// #endregion

// #region text

// Text is a free-form string artifact (SQL, prose, code).
type Text string

func (t Text) Kind() Kind { return KindText }

func (t Text) Len() int { return utf8.RuneCountInString(string(t)) }

func (t Text) IsEmpty() bool { return strings.TrimSpace(string(t)) == "" }

func (t Text) Complexity() float64 {
	n := t.Len()
	words := len(strings.Split(string(t), " "))
	avg := 0.0
	if words > 0 {
		avg = float64(n) / float64(words)
	}
	lengthScore := math.Min(float64(n)/1000, 1)
	wordScore := math.Min(avg/10, 1)
	return (lengthScore + wordScore) / 2
}

func (t Text) Perturb(rng *rand.Rand) Artifact {
	words := strings.Split(string(t), " ")
	if len(words) <= 2 {
		return t
	}
	i, j := rng.IntN(len(words)), rng.IntN(len(words))
	words[i], words[j] = words[j], words[i]
	return Text(strings.Join(words, " "))
}

func (t Text) Truncate(fraction float64) Artifact {
	runes := []rune(string(t))
	keep := int(math.Floor(float64(len(runes)) * fraction))
	return Text(string(runes[:clamp(keep, len(runes))]))
}

func (t Text) Value() any { return string(t) }

func (t Text) String() string { return string(t) }

func (Text) sealed() {}

// #endregion

// #region sequence

// Sequence is an ordered list of values.
type Sequence []any

func (s Sequence) Kind() Kind { return KindSequence }

func (s Sequence) Len() int { return len(s) }

func (s Sequence) IsEmpty() bool { return len(s) == 0 }

func (s Sequence) Complexity() float64 {
	nested := false
	for _, v := range s {
		if isComposite(v) {
			nested = true
			break
		}
	}
	return structuralComplexity(len(s), 100, nested)
}

func (s Sequence) Perturb(rng *rand.Rand) Artifact {
	out := make(Sequence, len(s))
	copy(out, s)
	if len(out) > 2 {
		i, j := rng.IntN(len(out)), rng.IntN(len(out))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s Sequence) Truncate(fraction float64) Artifact {
	keep := clamp(int(math.Floor(float64(len(s))*fraction)), len(s))
	out := make(Sequence, keep)
	copy(out, s[:keep])
	return out
}

func (s Sequence) Value() any { return []any(s) }

func (s Sequence) String() string { return marshalString(s) }

func (Sequence) sealed() {}

// #endregion

// #region record

// Record is a keyed mapping of values. Key order is never significant;
// operations that need an order use sorted keys.
type Record map[string]any

func (r Record) Kind() Kind { return KindRecord }

func (r Record) Len() int { return len(r) }

func (r Record) IsEmpty() bool { return len(r) == 0 }

func (r Record) Complexity() float64 {
	nested := false
	for _, v := range r {
		if isComposite(v) {
			nested = true
			break
		}
	}
	return structuralComplexity(len(r), 50, nested)
}

// Perturb returns the record unchanged; keyed values have no order to swap.
func (r Record) Perturb(_ *rand.Rand) Artifact { return r }

func (r Record) Truncate(fraction float64) Artifact {
	keys := r.Keys()
	keep := clamp(int(math.Floor(float64(len(keys))*fraction)), len(keys))
	out := make(Record, keep)
	for _, k := range keys[:keep] {
		out[k] = r[k]
	}
	return out
}

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Record) Value() any { return map[string]any(r) }

func (r Record) String() string { return marshalString(r) }

func (Record) sealed() {}

// #endregion

// #region constructors

// FromValue converts a decoded JSON value into an Artifact. Scalars other
// than strings are rendered as text.
func FromValue(v any) (Artifact, error) {
	switch x := v.(type) {
	case nil:
		return Text(""), nil
	case Artifact:
		return x, nil
	case string:
		return Text(x), nil
	case []any:
		return Sequence(x), nil
	case map[string]any:
		return Record(x), nil
	case float64, bool, json.Number, int, int64:
		return Text(fmt.Sprint(x)), nil
	default:
		return nil, fmt.Errorf("unsupported artifact value %T", v)
	}
}

// Parse decodes raw JSON into an Artifact. Input that is not valid JSON is
// treated as text.
func Parse(raw []byte) Artifact {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Text(string(raw))
	}
	a, err := FromValue(v)
	if err != nil {
		return Text(string(raw))
	}
	return a
}

// #endregion

// #region helpers

func structuralComplexity(n, saturation int, nested bool) float64 {
	sizeScore := math.Min(float64(n)/float64(saturation), 1)
	nestScore := 0.0
	if nested {
		nestScore = 0.5
	}
	return (sizeScore + nestScore) / 1.5
}

func isComposite(v any) bool {
	switch v.(type) {
	case []any, map[string]any, Sequence, Record:
		return true
	}
	return false
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func marshalString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// #endregion
