package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

// NormalizePayload converts an arbitrary payload map into the restricted
// value grammar that canonicalizes deterministically:
//
//   - nil, bool, string, json.Number pass through
//   - finite floats and all integer widths pass through (NaN/±Inf rejected)
//   - []byte renders as lowercase hex
//   - time.Time renders as RFC3339 UTC
//   - map[string]struct{} (a set) renders as a sorted slice
//   - nested maps and slices are normalized recursively
//
// A value outside the grammar is a programming error at the call site, so
// the error message names the offending key path.
func NormalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		nv, err := normalizeValue(v, k)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, json.Number:
		return t, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t, nil
	case float32:
		return normalizeFloat(float64(t), path)
	case float64:
		return normalizeFloat(t, path)
	case []byte:
		return hex.EncodeToString(t), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case Type:
		return string(t), nil
	case map[string]struct{}:
		members := make([]string, 0, len(t))
		for m := range t {
			members = append(members, m)
		}
		sort.Strings(members)
		out := make([]any, len(members))
		for i, m := range members {
			out[i] = m
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalizeValue(val, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nv, err := normalizeValue(val, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	}

	// Last resort: reflection for named string/number types and typed slices.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float(), path)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			nv, err := normalizeValue(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}

	return nil, fmt.Errorf("event: payload value at %q has non-canonical type %T", path, v)
}

func normalizeFloat(f float64, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("event: payload value at %q is not finite", path)
	}
	return f, nil
}
