// Package fsm provides the per-entity finite-state machines that gate
// which events an entity may accept, plus the oscillation detector that
// surfaces ping-pong policy violations.
package fsm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// State is a named machine state.
type State string

// Guard is an optional predicate evaluated against the triggering event.
// Returning false rejects the transition.
type Guard func(*event.Event) bool

// Transition is a registered edge in the machine.
type Transition struct {
	From      State
	To        State
	EventType event.Type
	Guard     Guard
}

// TransitionError reports a rejected transition along with the event
// types the current state does accept.
type TransitionError struct {
	From        State
	EventType   event.Type
	ValidEvents []event.Type
	Reason      string
}

func (e *TransitionError) Error() string {
	valid := make([]string, len(e.ValidEvents))
	for i, v := range e.ValidEvents {
		valid[i] = string(v)
	}
	msg := fmt.Sprintf("fsm: no transition from %s on %s (valid: %s)",
		e.From, e.EventType, strings.Join(valid, ", "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// GovernanceError reports a detected policy violation such as state
// oscillation. It never blocks the transition that triggered it.
type GovernanceError struct {
	Pattern string
}

func (e *GovernanceError) Error() string {
	return "fsm: governance violation: " + e.Pattern
}

type transKey struct {
	from State
	et   event.Type
}

// Machine holds a current state and a registry of guarded transitions
// keyed by (from state, event type).
type Machine struct {
	current     State
	transitions map[transKey]Transition
}

// NewMachine creates a machine at the initial state with the given edges.
func NewMachine(initial State, transitions []Transition) *Machine {
	m := &Machine{
		current:     initial,
		transitions: make(map[transKey]Transition, len(transitions)),
	}
	for _, t := range transitions {
		m.transitions[transKey{t.From, t.EventType}] = t
	}
	return m
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// CanTransition reports whether an edge exists from the current state for
// the event type. Guards are not evaluated here; they need the event.
func (m *Machine) CanTransition(et event.Type) bool {
	_, ok := m.transitions[transKey{m.current, et}]
	return ok
}

// ValidEvents returns the outgoing event types of the current state,
// sorted for stable error messages.
func (m *Machine) ValidEvents() []event.Type {
	var out []event.Type
	for k := range m.transitions {
		if k.from == m.current {
			out = append(out, k.et)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether the current state has no outgoing edges.
func (m *Machine) IsTerminal() bool {
	return len(m.ValidEvents()) == 0
}

// Transition applies an event: a registry miss or a false guard raises
// TransitionError; otherwise the machine moves and returns the new state.
func (m *Machine) Transition(e *event.Event) (State, error) {
	t, ok := m.transitions[transKey{m.current, e.Type}]
	if !ok {
		return m.current, &TransitionError{
			From:        m.current,
			EventType:   e.Type,
			ValidEvents: m.ValidEvents(),
		}
	}
	if t.Guard != nil && !t.Guard(e) {
		return m.current, &TransitionError{
			From:        m.current,
			EventType:   e.Type,
			ValidEvents: m.ValidEvents(),
			Reason:      "guard rejected event",
		}
	}
	m.current = t.To
	return m.current, nil
}

// Force sets the current state without consulting the registry. Used by
// machines whose routing depends on event payloads.
func (m *Machine) Force(s State) { m.current = s }
