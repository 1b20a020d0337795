// Package event defines the Akashic Record event model: the immutable,
// hash-chained records every HiveForge subsystem appends and replays.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hiveforge-labs/hiveforge/pkg/canonicalize"
)

// Event is the atomic unit of the Akashic Record. Instances are immutable
// once hashed; mutation means appending a new event.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	HiveID    string         `json:"hive_id,omitempty"`
	ColonyID  string         `json:"colony_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Parents   []string       `json:"parents,omitempty"`
	Hash      string         `json:"hash,omitempty"`
}

// Option customizes a new event.
type Option func(*Event)

func WithRunID(id string) Option     { return func(e *Event) { e.RunID = id } }
func WithHiveID(id string) Option    { return func(e *Event) { e.HiveID = id } }
func WithColonyID(id string) Option  { return func(e *Event) { e.ColonyID = id } }
func WithTaskID(id string) Option    { return func(e *Event) { e.TaskID = id } }
func WithWorkerID(id string) Option  { return func(e *Event) { e.WorkerID = id } }
func WithParents(ids ...string) Option {
	return func(e *Event) { e.Parents = append([]string(nil), ids...) }
}
func WithTimestamp(ts time.Time) Option {
	return func(e *Event) { e.Timestamp = ts.UTC() }
}
func WithID(id string) Option { return func(e *Event) { e.ID = id } }

// New constructs an event with a time-ordered id and a normalized payload.
// The hash is not set until the store links the event into a stream; use
// ComputeHash for standalone events.
func New(t Type, actor string, payload map[string]any, opts ...Option) (*Event, error) {
	normalized, err := NormalizePayload(payload)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("event: id generation failed: %w", err)
	}

	e := &Event{
		ID:        id.String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Payload:   normalized,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustNew is New for payloads known valid at compile time. It panics on a
// normalization failure, which per the payload contract is a programming
// error rather than a data error.
func MustNew(t Type, actor string, payload map[string]any, opts ...Option) *Event {
	e, err := New(t, actor, payload, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// hashable is the canonical view of an event minus its own hash.
type hashable struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp string         `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	HiveID    string         `json:"hive_id,omitempty"`
	ColonyID  string         `json:"colony_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Parents   []string       `json:"parents,omitempty"`
}

// ComputeHash derives the SHA-256 hex digest of the JCS-canonicalized event
// excluding the hash field itself. It is a pure function of the canonical
// form: structurally equal events hash identically.
func (e *Event) ComputeHash() (string, error) {
	h := hashable{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		RunID:     e.RunID,
		HiveID:    e.HiveID,
		ColonyID:  e.ColonyID,
		TaskID:    e.TaskID,
		WorkerID:  e.WorkerID,
		Actor:     e.Actor,
		Payload:   e.Payload,
		PrevHash:  e.PrevHash,
		Parents:   e.Parents,
	}
	digest, err := canonicalize.CanonicalHash(h)
	if err != nil {
		return "", fmt.Errorf("event %s: hash failed: %w", e.ID, err)
	}
	return digest, nil
}

// Seal sets PrevHash and derives Hash. Called by the store under the
// stream lock; callers outside the store should treat sealed events as
// frozen.
func (e *Event) Seal(prevHash string) error {
	e.PrevHash = prevHash
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// StreamKey returns the stream this event belongs to: the run id, or the
// hive id for hive-scoped events.
func (e *Event) StreamKey() string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.HiveID
}

// Known reports whether the event's type is in the closed enumeration.
func (e *Event) Known() bool { return Known(e.Type) }
