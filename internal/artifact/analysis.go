package artifact

// #region analysis

// Analysis is the keyed feature mapping an analyzer derives from an
// artifact. It is recomputed every iteration and never persisted on its own.
type Analysis map[string]any

// Bool reads a boolean feature. Missing or mistyped keys read as false.
func (a Analysis) Bool(key string) bool {
	v, ok := a[key].(bool)
	return ok && v
}

// Float reads a numeric feature, accepting any Go numeric type.
func (a Analysis) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

// Int reads a numeric feature truncated to int.
func (a Analysis) Int(key string) (int, bool) {
	f, ok := a.Float(key)
	return int(f), ok
}

// String reads a string feature.
func (a Analysis) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Strings reads a string list feature, accepting []string or []any.
func (a Analysis) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Merge returns a copy of a with other's keys laid over it.
func (a Analysis) Merge(other Analysis) Analysis {
	out := make(Analysis, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// #endregion
