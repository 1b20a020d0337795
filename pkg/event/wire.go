package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("record missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

// unmarshalPayload decodes with UseNumber so numeric payload values keep
// their exact wire representation through a parse/re-serialize round trip.
func unmarshalPayload(raw json.RawMessage, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
