package ra

import (
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/fsm"
)

// Analysis states.
const (
	StateIntake                  fsm.State = "INTAKE"
	StateTriage                  fsm.State = "TRIAGE"
	StateContextEnrich           fsm.State = "CONTEXT_ENRICH"
	StateWebResearch             fsm.State = "WEB_RESEARCH"
	StateHypothesisBuild         fsm.State = "HYPOTHESIS_BUILD"
	StateClarifyGen              fsm.State = "CLARIFY_GEN"
	StateUserFeedback            fsm.State = "USER_FEEDBACK"
	StateSpecSynthesis           fsm.State = "SPEC_SYNTHESIS"
	StateSpecPersist             fsm.State = "SPEC_PERSIST"
	StateUserEdit                fsm.State = "USER_EDIT"
	StateChallengeReview         fsm.State = "CHALLENGE_REVIEW"
	StateRefereeCompare          fsm.State = "REFEREE_COMPARE"
	StateGuardGate               fsm.State = "GUARD_GATE"
	StateExecutionReady          fsm.State = "EXECUTION_READY"
	StateExecutionReadyWithRisks fsm.State = "EXECUTION_READY_WITH_RISKS"
	StateAbandoned               fsm.State = "ABANDONED"
)

// Completion outcomes routed through the ra.completed payload.
const (
	OutcomeExecutionReady          = "execution_ready"
	OutcomeExecutionReadyWithRisks = "execution_ready_with_risks"
	OutcomeAbandoned               = "abandoned"
)

// StateMachine wraps the generic machine with the one edge the registry
// cannot express: GUARD_GATE fans out on the ra.completed payload.
type StateMachine struct {
	m *fsm.Machine
}

// NewStateMachine builds the analysis machine at INTAKE.
func NewStateMachine() *StateMachine {
	transitions := []fsm.Transition{
		{From: StateIntake, To: StateTriage, EventType: event.TypeRATriageCompleted},
		{From: StateTriage, To: StateContextEnrich, EventType: event.TypeRAContextEnriched},

		{From: StateContextEnrich, To: StateWebResearch, EventType: event.TypeRAWebResearched},
		{From: StateContextEnrich, To: StateHypothesisBuild, EventType: event.TypeRAHypothesisBuilt},
		{From: StateContextEnrich, To: StateHypothesisBuild, EventType: event.TypeRAWebSkipped},
		{From: StateWebResearch, To: StateHypothesisBuild, EventType: event.TypeRAHypothesisBuilt},

		{From: StateHypothesisBuild, To: StateClarifyGen, EventType: event.TypeRAClarifyGenerated},
		{From: StateClarifyGen, To: StateSpecSynthesis, EventType: event.TypeRASpecSynthesized},
		{From: StateClarifyGen, To: StateUserFeedback, EventType: event.TypeRAUserResponded},

		{From: StateUserFeedback, To: StateHypothesisBuild, EventType: event.TypeRAHypothesisBuilt},
		{From: StateUserFeedback, To: StateSpecSynthesis, EventType: event.TypeRASpecSynthesized},
		{From: StateUserFeedback, To: StateAbandoned, EventType: event.TypeRACompleted},

		{From: StateSpecSynthesis, To: StateSpecPersist, EventType: event.TypeRASpecPersisted},
		{From: StateSpecSynthesis, To: StateChallengeReview, EventType: event.TypeRAChallengeReviewed},
		{From: StateSpecPersist, To: StateChallengeReview, EventType: event.TypeRAChallengeReviewed},
		{From: StateSpecPersist, To: StateUserEdit, EventType: event.TypeRAUserEdited},
		{From: StateUserEdit, To: StateSpecSynthesis, EventType: event.TypeRASpecSynthesized},
		{From: StateUserEdit, To: StateChallengeReview, EventType: event.TypeRAChallengeReviewed},

		{From: StateChallengeReview, To: StateGuardGate, EventType: event.TypeRAGateDecided},
		{From: StateChallengeReview, To: StateSpecSynthesis, EventType: event.TypeRASpecSynthesized},
		{From: StateChallengeReview, To: StateRefereeCompare, EventType: event.TypeRARefereeCompared},
		{From: StateRefereeCompare, To: StateGuardGate, EventType: event.TypeRAGateDecided},

		// The To state here is a placeholder: Transition routes by payload.
		{From: StateGuardGate, To: StateExecutionReady, EventType: event.TypeRACompleted},
		{From: StateGuardGate, To: StateClarifyGen, EventType: event.TypeRAClarifyGenerated},
	}
	return &StateMachine{m: fsm.NewMachine(StateIntake, transitions)}
}

// Current returns the current state.
func (s *StateMachine) Current() fsm.State { return s.m.Current() }

// CanTransition reports whether the current state accepts the event type.
func (s *StateMachine) CanTransition(et event.Type) bool { return s.m.CanTransition(et) }

// ValidEvents returns the current state's outgoing event types.
func (s *StateMachine) ValidEvents() []event.Type { return s.m.ValidEvents() }

// IsTerminal reports whether analysis has finished.
func (s *StateMachine) IsTerminal() bool {
	switch s.m.Current() {
	case StateExecutionReady, StateExecutionReadyWithRisks, StateAbandoned:
		return true
	}
	return false
}

// Transition applies an event. On GUARD_GATE, ra.completed is routed by
// its outcome payload; a missing or unknown outcome raises
// TransitionError.
func (s *StateMachine) Transition(e *event.Event) (fsm.State, error) {
	if s.m.Current() == StateGuardGate && e.Type == event.TypeRACompleted {
		outcome, _ := e.Payload["outcome"].(string)
		var target fsm.State
		switch outcome {
		case OutcomeExecutionReady:
			target = StateExecutionReady
		case OutcomeExecutionReadyWithRisks:
			target = StateExecutionReadyWithRisks
		case OutcomeAbandoned:
			target = StateAbandoned
		default:
			return s.m.Current(), &fsm.TransitionError{
				From:        s.m.Current(),
				EventType:   e.Type,
				ValidEvents: s.m.ValidEvents(),
				Reason:      "unknown completion outcome",
			}
		}
		s.m.Force(target)
		return target, nil
	}
	return s.m.Transition(e)
}
