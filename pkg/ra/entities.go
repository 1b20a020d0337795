// Package ra is the requirement-analysis subsystem: a 16-state
// orchestrator that takes raw requirement text through triage,
// hypothesis building, clarification, spec synthesis, adversarial
// challenge, and a rule-based gate, leaving an audit chain of ra.*
// events behind every run.
package ra

import (
	"encoding/json"
	"fmt"
)

// Per-run caps on analysis artifacts.
const (
	MaxAssumptions         = 10
	MaxFailureHypotheses   = 5
	MaxQuestionsPerRound   = 3
	MaxClarificationRounds = 3
	MaxChallengesPerReport = 5
)

// AmbiguityScores quantifies how actionable a requirement is. All
// components are in [0,1].
type AmbiguityScores struct {
	Ambiguity          float64 `json:"ambiguity"`
	ContextSufficiency float64 `json:"context_sufficiency"`
	ExecutionRisk      float64 `json:"execution_risk"`
}

// NeedsClarification is true when the text is too vague to act on.
func (s AmbiguityScores) NeedsClarification() bool {
	return s.Ambiguity >= 0.7
}

// CanProceedWithAssumptions is true when explicit assumptions can
// substitute for clarification.
func (s AmbiguityScores) CanProceedWithAssumptions() bool {
	return s.Ambiguity < 0.7 && s.ExecutionRisk < 0.5
}

// AnalysisPath selects how much of the pipeline a requirement runs.
type AnalysisPath string

const (
	PathInstantPass    AnalysisPath = "instant_pass"
	PathAssumptionPass AnalysisPath = "assumption_pass"
	PathFullAnalysis   AnalysisPath = "full_analysis"
)

// ClassifyPath applies the boundary rules. All comparisons are strict.
func ClassifyPath(s AmbiguityScores) AnalysisPath {
	if s.Ambiguity < 0.3 && s.ContextSufficiency > 0.8 && s.ExecutionRisk < 0.3 {
		return PathInstantPass
	}
	if s.Ambiguity < 0.7 && s.ExecutionRisk < 0.5 {
		return PathAssumptionPass
	}
	return PathFullAnalysis
}

// IntentGraph is the mined structure of a requirement.
type IntentGraph struct {
	Goals           []string `json:"goals"`
	SuccessCriteria []string `json:"success_criteria"`
	Constraints     []string `json:"constraints"`
	NonGoals        []string `json:"non_goals"`
	Unknowns        []string `json:"unknowns"`
}

// Validate requires at least one goal.
func (g IntentGraph) Validate() error {
	if len(g.Goals) == 0 {
		return fmt.Errorf("ra: intent graph requires at least one goal")
	}
	return nil
}

// AssumptionStatus is the lifecycle of an assumption.
type AssumptionStatus string

const (
	AssumptionPending      AssumptionStatus = "pending"
	AssumptionConfirmed    AssumptionStatus = "confirmed"
	AssumptionRejected     AssumptionStatus = "rejected"
	AssumptionAutoApproved AssumptionStatus = "auto_approved"
)

// Assumption is one explicit guess standing in for missing information.
type Assumption struct {
	ID           string           `json:"id"`
	Text         string           `json:"text"`
	Confidence   float64          `json:"confidence"`
	EvidenceIDs  []string         `json:"evidence_ids,omitempty"`
	Status       AssumptionStatus `json:"status"`
	UserResponse string           `json:"user_response,omitempty"`
}

// HypothesisSeverity ranks a failure hypothesis.
type HypothesisSeverity string

const (
	SeverityLow    HypothesisSeverity = "LOW"
	SeverityMedium HypothesisSeverity = "MEDIUM"
	SeverityHigh   HypothesisSeverity = "HIGH"
)

// FailureHypothesis is one way the work could go wrong.
type FailureHypothesis struct {
	ID         string             `json:"id"`
	Text       string             `json:"text"`
	Severity   HypothesisSeverity `json:"severity"`
	Mitigation string             `json:"mitigation,omitempty"`
	Addressed  bool               `json:"addressed"`
}

// QuestionType is the answer shape of a clarification question.
type QuestionType string

const (
	QuestionYesNo        QuestionType = "yes_no"
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionFreeText     QuestionType = "free_text"
)

// ClarificationQuestion is one question put to the requester.
type ClarificationQuestion struct {
	ID                   string       `json:"id"`
	Text                 string       `json:"text"`
	Type                 QuestionType `json:"type"`
	Options              []string     `json:"options,omitempty"`
	Impact               string       `json:"impact,omitempty"`
	RelatedAssumptionIDs []string     `json:"related_assumption_ids,omitempty"`
	Answer               string       `json:"answer,omitempty"`
}

// ClarificationRound groups at most three questions.
type ClarificationRound struct {
	RoundNumber int                     `json:"round_number"`
	Questions   []ClarificationQuestion `json:"questions"`
}

// Validate enforces the round shape.
func (r ClarificationRound) Validate() error {
	if r.RoundNumber < 1 {
		return fmt.Errorf("ra: round number must be >= 1, got %d", r.RoundNumber)
	}
	if len(r.Questions) > MaxQuestionsPerRound {
		return fmt.Errorf("ra: round %d has %d questions, cap is %d",
			r.RoundNumber, len(r.Questions), MaxQuestionsPerRound)
	}
	return nil
}

// AcceptanceCriterion is a structured, checkable success condition.
type AcceptanceCriterion struct {
	Text       string  `json:"text"`
	Measurable bool    `json:"measurable"`
	Metric     string  `json:"metric,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
}

// Criterion is either a structured AcceptanceCriterion or a raw string;
// both shapes round-trip through the persister.
type Criterion struct {
	Raw        string
	Structured *AcceptanceCriterion
}

// Text returns the criterion's display text regardless of shape.
func (c Criterion) Text() string {
	if c.Structured != nil {
		return c.Structured.Text
	}
	return c.Raw
}

// IsStructured reports whether the criterion carries metadata.
func (c Criterion) IsStructured() bool { return c.Structured != nil }

// MarshalJSON emits the raw string or the structured object, matching
// whichever shape the criterion was built from.
func (c Criterion) MarshalJSON() ([]byte, error) {
	if c.Structured != nil {
		return json.Marshal(c.Structured)
	}
	return json.Marshal(c.Raw)
}

// UnmarshalJSON accepts both shapes.
func (c *Criterion) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		c.Raw = raw
		c.Structured = nil
		return nil
	}
	var structured AcceptanceCriterion
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("ra: criterion must be a string or an object: %w", err)
	}
	c.Structured = &structured
	c.Raw = ""
	return nil
}

// SpecDraft is the synthesized specification.
type SpecDraft struct {
	DraftID            string      `json:"draft_id"`
	Version            int         `json:"version"`
	Goal               string      `json:"goal"`
	AcceptanceCriteria []Criterion `json:"acceptance_criteria"`
	Constraints        []string    `json:"constraints,omitempty"`
	NonGoals           []string    `json:"non_goals,omitempty"`
	OpenItems          []string    `json:"open_items,omitempty"`
	RiskMitigations    []string    `json:"risk_mitigations,omitempty"`
	DocumentID         string      `json:"document_id,omitempty"`
	FilePath           string      `json:"file_path,omitempty"`
}

// Validate enforces the draft shape.
func (d SpecDraft) Validate() error {
	if d.Version < 1 {
		return fmt.Errorf("ra: draft version must be >= 1, got %d", d.Version)
	}
	if len(d.AcceptanceCriteria) == 0 {
		return fmt.Errorf("ra: draft requires at least one acceptance criterion")
	}
	return nil
}

// RequiredAction is what a challenge demands.
type RequiredAction string

const (
	ActionClarify      RequiredAction = "clarify"
	ActionSpecRevision RequiredAction = "spec_revision"
	ActionBlock        RequiredAction = "block"
	ActionLogOnly      RequiredAction = "log_only"
)

// Challenge is one adversarial finding against a draft.
type Challenge struct {
	ID             string             `json:"id"`
	Claim          string             `json:"claim"`
	Evidence       string             `json:"evidence,omitempty"`
	Severity       HypothesisSeverity `json:"severity"`
	RequiredAction RequiredAction     `json:"required_action"`
	Counterexample string             `json:"counterexample,omitempty"`
	Addressed      bool               `json:"addressed"`
	Resolution     string             `json:"resolution,omitempty"`
}

// ChallengeVerdict is the aggregate outcome of a challenge report.
type ChallengeVerdict string

const (
	VerdictPassWithRisks  ChallengeVerdict = "pass_with_risks"
	VerdictReviewRequired ChallengeVerdict = "review_required"
	VerdictBlock          ChallengeVerdict = "block"
)

// ChallengeReport aggregates challenges against one draft.
type ChallengeReport struct {
	ReportID   string           `json:"report_id"`
	DraftID    string           `json:"draft_id"`
	Challenges []Challenge      `json:"challenges"`
	Verdict    ChallengeVerdict `json:"verdict"`
	Summary    string           `json:"summary,omitempty"`
}

// ComputeVerdict derives the verdict from unaddressed challenge counts:
// any HIGH blocks, two or more MEDIUM require review, anything else
// passes with risks.
func ComputeVerdict(challenges []Challenge) ChallengeVerdict {
	high, medium := 0, 0
	for _, c := range challenges {
		if c.Addressed {
			continue
		}
		switch c.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}
	switch {
	case high >= 1:
		return VerdictBlock
	case medium >= 2:
		return VerdictReviewRequired
	default:
		return VerdictPassWithRisks
	}
}

// GateCheck is one rule's result inside the RA gate.
type GateCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// GateResult is the gate's aggregate decision.
type GateResult struct {
	Passed          bool        `json:"passed"`
	Checks          []GateCheck `json:"checks"`
	RequiredActions []string    `json:"required_actions,omitempty"`
}
