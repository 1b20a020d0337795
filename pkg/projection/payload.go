package projection

import "encoding/json"

// Numeric extracts a float from the payload value shapes produced by the
// constructor (int, float64) and by the wire parser (json.Number).
func Numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
