package ra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/fsm"
)

func raEvent(t *testing.T, typ event.Type, payload map[string]any) *event.Event {
	t.Helper()
	e, err := event.New(typ, "test", payload, event.WithRunID("run-1"))
	require.NoError(t, err)
	return e
}

func driveTo(t *testing.T, m *StateMachine, types ...event.Type) {
	t.Helper()
	for _, typ := range types {
		_, err := m.Transition(raEvent(t, typ, nil))
		require.NoError(t, err, "transition on %s from %s", typ, m.Current())
	}
}

var pathToGuardGate = []event.Type{
	event.TypeRATriageCompleted,
	event.TypeRAContextEnriched,
	event.TypeRAHypothesisBuilt,
	event.TypeRAClarifyGenerated,
	event.TypeRASpecSynthesized,
	event.TypeRASpecPersisted,
	event.TypeRAChallengeReviewed,
	event.TypeRAGateDecided,
}

func TestStateMachineHappyPath(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateIntake, m.Current())

	driveTo(t, m, pathToGuardGate...)
	assert.Equal(t, StateGuardGate, m.Current())
	assert.False(t, m.IsTerminal())

	_, err := m.Transition(raEvent(t, event.TypeRACompleted, map[string]any{
		"outcome": OutcomeExecutionReady,
	}))
	require.NoError(t, err)
	assert.Equal(t, StateExecutionReady, m.Current())
	assert.True(t, m.IsTerminal())
}

func TestStateMachineOutcomeRouting(t *testing.T) {
	cases := []struct {
		outcome string
		want    fsm.State
	}{
		{OutcomeExecutionReady, StateExecutionReady},
		{OutcomeExecutionReadyWithRisks, StateExecutionReadyWithRisks},
		{OutcomeAbandoned, StateAbandoned},
	}
	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			m := NewStateMachine()
			driveTo(t, m, pathToGuardGate...)

			state, err := m.Transition(raEvent(t, event.TypeRACompleted, map[string]any{
				"outcome": tc.outcome,
			}))
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)
			assert.True(t, m.IsTerminal())
		})
	}
}

func TestStateMachineUnknownOutcome(t *testing.T) {
	m := NewStateMachine()
	driveTo(t, m, pathToGuardGate...)

	_, err := m.Transition(raEvent(t, event.TypeRACompleted, map[string]any{
		"outcome": "shipped",
	}))
	var terr *fsm.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateGuardGate, m.Current())

	// A missing outcome is just as invalid.
	_, err = m.Transition(raEvent(t, event.TypeRACompleted, nil))
	require.ErrorAs(t, err, &terr)
}

func TestStateMachineClarificationLoop(t *testing.T) {
	m := NewStateMachine()
	driveTo(t, m,
		event.TypeRATriageCompleted,
		event.TypeRAContextEnriched,
		event.TypeRAWebSkipped,
		event.TypeRAClarifyGenerated,
	)
	assert.Equal(t, StateClarifyGen, m.Current())

	// User answers, then analysis loops back to hypothesis building.
	driveTo(t, m, event.TypeRAUserResponded, event.TypeRAHypothesisBuilt)
	assert.Equal(t, StateHypothesisBuild, m.Current())
}

func TestStateMachineUserFeedbackAbandon(t *testing.T) {
	m := NewStateMachine()
	driveTo(t, m,
		event.TypeRATriageCompleted,
		event.TypeRAContextEnriched,
		event.TypeRAHypothesisBuilt,
		event.TypeRAClarifyGenerated,
		event.TypeRAUserResponded,
	)
	assert.Equal(t, StateUserFeedback, m.Current())

	// Outside GUARD_GATE, ra.completed follows the registry edge.
	state, err := m.Transition(raEvent(t, event.TypeRACompleted, map[string]any{
		"outcome": OutcomeAbandoned,
	}))
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, state)
}

func TestStateMachineRejectsInvalidEvent(t *testing.T) {
	m := NewStateMachine()
	_, err := m.Transition(raEvent(t, event.TypeRAGateDecided, nil))
	var terr *fsm.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, StateIntake, m.Current())
	assert.False(t, m.CanTransition(event.TypeRAGateDecided))
	assert.True(t, m.CanTransition(event.TypeRATriageCompleted))
}

func TestStateMachineGuardGateRemand(t *testing.T) {
	m := NewStateMachine()
	driveTo(t, m, pathToGuardGate...)

	driveTo(t, m, event.TypeRAClarifyGenerated)
	assert.Equal(t, StateClarifyGen, m.Current())
}
