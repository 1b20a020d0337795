package event

import (
	"encoding/json"
	"fmt"
)

// MaxPayloadBytes bounds the payload a reader will retain for an unknown
// event type. Oversized payloads are replaced by a truncation sentinel so
// a hostile or buggy writer cannot balloon reader memory.
const MaxPayloadBytes = 1 << 20

// TruncationSentinelKey marks a payload that was dropped during parsing.
const TruncationSentinelKey = "_truncated"

type wireEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	HiveID    string          `json:"hive_id,omitempty"`
	ColonyID  string          `json:"colony_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Parents   []string        `json:"parents,omitempty"`
	Hash      string          `json:"hash,omitempty"`
}

// Parse decodes a single wire-format event record. An unrecognized type
// discriminator does not fail: the event is returned with its original
// type string and payload preserved, so older readers can replay logs
// written by newer writers. Known() reports false for such events.
func Parse(data []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: parse failed: %w", err)
	}
	return fromWire(&w)
}

// ParseString is Parse over a string record.
func ParseString(line string) (*Event, error) {
	return Parse([]byte(line))
}

func fromWire(w *wireEvent) (*Event, error) {
	if w.Type == "" {
		return nil, fmt.Errorf("event: record missing type discriminator")
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", w.ID, err)
	}

	payload := map[string]any{}
	if len(w.Payload) > 0 {
		if len(w.Payload) > MaxPayloadBytes {
			payload = map[string]any{
				TruncationSentinelKey: true,
				"original_size":       len(w.Payload),
			}
		} else if err := unmarshalPayload(w.Payload, &payload); err != nil {
			return nil, fmt.Errorf("event %s: payload parse failed: %w", w.ID, err)
		}
	}

	return &Event{
		ID:        w.ID,
		Type:      Type(w.Type),
		Timestamp: ts,
		RunID:     w.RunID,
		HiveID:    w.HiveID,
		ColonyID:  w.ColonyID,
		TaskID:    w.TaskID,
		WorkerID:  w.WorkerID,
		Actor:     w.Actor,
		Payload:   payload,
		PrevHash:  w.PrevHash,
		Parents:   w.Parents,
		Hash:      w.Hash,
	}, nil
}

// Marshal renders the event as a single wire-format JSON line (no trailing
// newline). Numbers in the payload survive as json.Number so re-serializing
// never changes the hash.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event %s: marshal failed: %w", e.ID, err)
	}
	return data, nil
}
