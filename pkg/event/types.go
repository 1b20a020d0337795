package event

// Type is the closed, wire-level event type discriminator.
type Type string

const (
	// Hive lifecycle.
	TypeHiveCreated Type = "hive.created"
	TypeHiveClosed  Type = "hive.closed"

	// Colony lifecycle.
	TypeColonyCreated   Type = "colony.created"
	TypeColonyStarted   Type = "colony.started"
	TypeColonySuspended Type = "colony.suspended"
	TypeColonyCompleted Type = "colony.completed"
	TypeColonyFailed    Type = "colony.failed"

	// Run lifecycle.
	TypeRunStarted   Type = "run.started"
	TypeRunCompleted Type = "run.completed"
	TypeRunFailed    Type = "run.failed"
	TypeRunAborted   Type = "run.aborted"

	// Task lifecycle.
	TypeTaskCreated    Type = "task.created"
	TypeTaskAssigned   Type = "task.assigned"
	TypeTaskProgressed Type = "task.progressed"
	TypeTaskCompleted  Type = "task.completed"
	TypeTaskFailed     Type = "task.failed"
	TypeTaskBlocked    Type = "task.blocked"
	TypeTaskUnblocked  Type = "task.unblocked"

	// Requirements.
	TypeRequirementCreated  Type = "requirement.created"
	TypeRequirementApproved Type = "requirement.approved"
	TypeRequirementRejected Type = "requirement.rejected"

	// Decisions and proposals.
	TypeDecisionRecorded   Type = "decision.recorded"
	TypeProposalCreated    Type = "proposal.created"
	TypeProposalApplied    Type = "proposal.applied"
	TypeProposalSuperseded Type = "proposal.superseded"

	// Conferences.
	TypeConferenceStarted Type = "conference.started"
	TypeConferenceEnded   Type = "conference.ended"

	// Conflicts.
	TypeConflictDetected Type = "conflict.detected"
	TypeConflictResolved Type = "conflict.resolved"

	// Operations.
	TypeOperationTimeout Type = "operation.timeout"
	TypeOperationFailed  Type = "operation.failed"

	// Interventions.
	TypeInterventionUserDirect        Type = "intervention.user_direct"
	TypeInterventionQueenEscalation   Type = "intervention.queen_escalation"
	TypeInterventionBeekeeperFeedback Type = "intervention.beekeeper_feedback"

	// Workers.
	TypeWorkerAssigned  Type = "worker.assigned"
	TypeWorkerStarted   Type = "worker.started"
	TypeWorkerProgress  Type = "worker.progress"
	TypeWorkerCompleted Type = "worker.completed"
	TypeWorkerFailed    Type = "worker.failed"

	// LLM traffic.
	TypeLLMRequest  Type = "llm.request"
	TypeLLMResponse Type = "llm.response"

	// Sentinel Hornet.
	TypeSentinelAlertRaised Type = "sentinel.alert_raised"
	TypeSentinelReport      Type = "sentinel.report"

	// Guard Bee.
	TypeGuardVerificationRequested Type = "guard.verification_requested"
	TypeGuardPassed                Type = "guard.passed"
	TypeGuardConditionalPassed     Type = "guard.conditional_passed"
	TypeGuardFailed                Type = "guard.failed"

	// System.
	TypeSystemHeartbeat       Type = "system.heartbeat"
	TypeSystemError           Type = "system.error"
	TypeSystemSilenceDetected Type = "system.silence_detected"
	TypeSystemEmergencyStop   Type = "system.emergency_stop"

	// Requirement Analysis pipeline.
	TypeRAIntakeReceived    Type = "ra.intake_received"
	TypeRATriageCompleted   Type = "ra.triage_completed"
	TypeRAContextEnriched   Type = "ra.context_enriched"
	TypeRAWebResearched     Type = "ra.web_researched"
	TypeRAWebSkipped        Type = "ra.web_skipped"
	TypeRAHypothesisBuilt   Type = "ra.hypothesis_built"
	TypeRAClarifyGenerated  Type = "ra.clarify_generated"
	TypeRAUserResponded     Type = "ra.user_responded"
	TypeRASpecSynthesized   Type = "ra.spec_synthesized"
	TypeRASpecPersisted     Type = "ra.spec_persisted"
	TypeRAUserEdited        Type = "ra.user_edited"
	TypeRAChallengeReviewed Type = "ra.challenge_reviewed"
	TypeRARefereeCompared   Type = "ra.referee_compared"
	TypeRAGateDecided       Type = "ra.gate_decided"
	TypeRACompleted         Type = "ra.completed"

	// GitHub projection echo events.
	TypeGitHubIssueCreated  Type = "github.issue_created"
	TypeGitHubIssueUpdated  Type = "github.issue_updated"
	TypeGitHubIssueClosed   Type = "github.issue_closed"
	TypeGitHubCommentAdded  Type = "github.comment_added"
	TypeGitHubLabelApplied  Type = "github.label_applied"
	TypeGitHubProjectSynced Type = "github.project_synced"
)

var knownTypes = map[Type]struct{}{
	TypeHiveCreated: {}, TypeHiveClosed: {},
	TypeColonyCreated: {}, TypeColonyStarted: {}, TypeColonySuspended: {},
	TypeColonyCompleted: {}, TypeColonyFailed: {},
	TypeRunStarted: {}, TypeRunCompleted: {}, TypeRunFailed: {}, TypeRunAborted: {},
	TypeTaskCreated: {}, TypeTaskAssigned: {}, TypeTaskProgressed: {},
	TypeTaskCompleted: {}, TypeTaskFailed: {}, TypeTaskBlocked: {}, TypeTaskUnblocked: {},
	TypeRequirementCreated: {}, TypeRequirementApproved: {}, TypeRequirementRejected: {},
	TypeDecisionRecorded: {}, TypeProposalCreated: {}, TypeProposalApplied: {}, TypeProposalSuperseded: {},
	TypeConferenceStarted: {}, TypeConferenceEnded: {},
	TypeConflictDetected: {}, TypeConflictResolved: {},
	TypeOperationTimeout: {}, TypeOperationFailed: {},
	TypeInterventionUserDirect: {}, TypeInterventionQueenEscalation: {}, TypeInterventionBeekeeperFeedback: {},
	TypeWorkerAssigned: {}, TypeWorkerStarted: {}, TypeWorkerProgress: {},
	TypeWorkerCompleted: {}, TypeWorkerFailed: {},
	TypeLLMRequest: {}, TypeLLMResponse: {},
	TypeSentinelAlertRaised: {}, TypeSentinelReport: {},
	TypeGuardVerificationRequested: {}, TypeGuardPassed: {}, TypeGuardConditionalPassed: {}, TypeGuardFailed: {},
	TypeSystemHeartbeat: {}, TypeSystemError: {}, TypeSystemSilenceDetected: {}, TypeSystemEmergencyStop: {},
	TypeRAIntakeReceived: {}, TypeRATriageCompleted: {}, TypeRAContextEnriched: {},
	TypeRAWebResearched: {}, TypeRAWebSkipped: {}, TypeRAHypothesisBuilt: {},
	TypeRAClarifyGenerated: {}, TypeRAUserResponded: {}, TypeRASpecSynthesized: {},
	TypeRASpecPersisted: {}, TypeRAUserEdited: {},
	TypeRAChallengeReviewed: {}, TypeRARefereeCompared: {}, TypeRAGateDecided: {}, TypeRACompleted: {},
	TypeGitHubIssueCreated: {}, TypeGitHubIssueUpdated: {}, TypeGitHubIssueClosed: {},
	TypeGitHubCommentAdded: {}, TypeGitHubLabelApplied: {}, TypeGitHubProjectSynced: {},
}

// Known reports whether t is a member of the closed enumeration.
// Readers tolerate unknown types for forward compatibility (see Parse).
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

func (t Type) String() string { return string(t) }
