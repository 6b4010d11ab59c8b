package canon

import "fmt"

// FromAny converts a value produced by encoding/json.Unmarshal (into
// map[string]any/[]any/string/float64/bool/nil) into the canon.Value tree.
// It panics on any other dynamic type, since that indicates a decoding bug
// upstream rather than a canonicalization concern.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case string:
		return Str(t)
	case float64:
		return Num(t)
	case int:
		return Num(float64(t))
	case []any:
		seq := make(Seq, len(t))
		for i, elem := range t {
			seq[i] = FromAny(elem)
		}
		return seq
	case map[string]any:
		m := make(Map, len(t))
		for k, elem := range t {
			m[k] = FromAny(elem)
		}
		return m
	default:
		panic(fmt.Sprintf("canon: cannot convert value of type %T", v))
	}
}
