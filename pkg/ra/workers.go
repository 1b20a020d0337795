package ra

import (
	"context"
	"fmt"
	"sort"

	"github.com/hiveforge-labs/hiveforge/pkg/llm"
)

// Workers bundles the analysis LLM workers. Each worker has a fixed
// system prompt and a registered response schema; model output that
// fails its schema is rejected before post-processing.
type Workers struct {
	client    llm.Client
	validator *llm.Validator
}

// NewWorkers creates the worker bundle and compiles all response
// schemas eagerly.
func NewWorkers(client llm.Client) (*Workers, error) {
	v := llm.NewValidator()
	schemas := map[string]string{
		"intent":        intentSchema,
		"assumptions":   assumptionsSchema,
		"hypotheses":    hypothesesSchema,
		"clarification": clarificationSchema,
		"spec_draft":    specDraftSchema,
		"challenges":    challengesSchema,
	}
	for name, raw := range schemas {
		if err := v.Register(name, raw); err != nil {
			return nil, err
		}
	}
	return &Workers{client: client, validator: v}, nil
}

func (w *Workers) ask(ctx context.Context, system, user, schema string, out any) error {
	resp, err := w.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil, nil)
	if err != nil {
		return fmt.Errorf("ra: worker chat: %w", err)
	}
	return w.validator.DecodeValidated(schema, []byte(resp.Content), out)
}

const intentMinerPrompt = `You mine structured intent from a raw requirement.
Respond with JSON: {"goals": [...], "success_criteria": [...],
"constraints": [...], "non_goals": [...], "unknowns": [...]}.
Goals must be concrete outcomes, not restatements of the input.`

const intentSchema = `{
	"type": "object",
	"required": ["goals"],
	"properties": {
		"goals": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"success_criteria": {"type": "array", "items": {"type": "string"}},
		"constraints": {"type": "array", "items": {"type": "string"}},
		"non_goals": {"type": "array", "items": {"type": "string"}},
		"unknowns": {"type": "array", "items": {"type": "string"}}
	}
}`

// MineIntent extracts the intent graph from requirement text.
func (w *Workers) MineIntent(ctx context.Context, text string) (*IntentGraph, error) {
	var graph IntentGraph
	if err := w.ask(ctx, intentMinerPrompt, text, "intent", &graph); err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &graph, nil
}

const assumptionMapperPrompt = `You surface the implicit assumptions a requirement rests on.
Respond with JSON: {"assumptions": [{"id": "A1", "text": "...",
"confidence": 0.0}]}. Confidence is your belief the assumption holds.`

const assumptionsSchema = `{
	"type": "object",
	"required": ["assumptions"],
	"properties": {
		"assumptions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "confidence"],
				"properties": {
					"id": {"type": "string"},
					"text": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}
}`

// MapAssumptions extracts assumptions and applies the mapper's
// post-processing: items below 0.3 confidence move to unknowns, items
// at or above 0.8 are auto-approved, and the list truncates to the
// per-run cap by descending confidence.
func (w *Workers) MapAssumptions(ctx context.Context, text string, graph *IntentGraph) ([]Assumption, []string, error) {
	var parsed struct {
		Assumptions []Assumption `json:"assumptions"`
	}
	if err := w.ask(ctx, assumptionMapperPrompt, text, "assumptions", &parsed); err != nil {
		return nil, nil, err
	}

	var kept []Assumption
	var unknowns []string
	for i, a := range parsed.Assumptions {
		if a.ID == "" {
			a.ID = fmt.Sprintf("A%d", i+1)
		}
		if a.Confidence < 0.3 {
			unknowns = append(unknowns, a.Text)
			continue
		}
		if a.Confidence >= 0.8 {
			a.Status = AssumptionAutoApproved
		} else {
			a.Status = AssumptionPending
		}
		kept = append(kept, a)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	if len(kept) > MaxAssumptions {
		kept = kept[:MaxAssumptions]
	}
	if graph != nil {
		graph.Unknowns = append(graph.Unknowns, unknowns...)
	}
	return kept, unknowns, nil
}

const riskChallengerAPrompt = `You enumerate ways this work could fail.
Respond with JSON: {"hypotheses": [{"id": "H1", "text": "...",
"severity": "LOW|MEDIUM|HIGH", "mitigation": "..."}]}.
Prefer specific failure modes over generic ones.`

const hypothesesSchema = `{
	"type": "object",
	"required": ["hypotheses"],
	"properties": {
		"hypotheses": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "severity"],
				"properties": {
					"id": {"type": "string"},
					"text": {"type": "string"},
					"severity": {"enum": ["LOW", "MEDIUM", "HIGH"]},
					"mitigation": {"type": "string"}
				}
			}
		}
	}
}`

// BuildHypotheses runs challenger phase A, capped at five hypotheses.
func (w *Workers) BuildHypotheses(ctx context.Context, text string) ([]FailureHypothesis, error) {
	var parsed struct {
		Hypotheses []FailureHypothesis `json:"hypotheses"`
	}
	if err := w.ask(ctx, riskChallengerAPrompt, text, "hypotheses", &parsed); err != nil {
		return nil, err
	}
	for i := range parsed.Hypotheses {
		if parsed.Hypotheses[i].ID == "" {
			parsed.Hypotheses[i].ID = fmt.Sprintf("H%d", i+1)
		}
	}
	if len(parsed.Hypotheses) > MaxFailureHypotheses {
		parsed.Hypotheses = parsed.Hypotheses[:MaxFailureHypotheses]
	}
	return parsed.Hypotheses, nil
}

const clarificationPrompt = `You write clarification questions for ambiguous requirements.
Respond with JSON: {"questions": [{"id": "Q1", "text": "...",
"type": "yes_no|single_choice|multi_choice|free_text", "options": [],
"impact": "...", "related_assumption_ids": []}]}.
Ask nothing you could answer from the text. An empty list means the
requirement is clear enough to proceed.`

const clarificationSchema = `{
	"type": "object",
	"required": ["questions"],
	"properties": {
		"questions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "type"],
				"properties": {
					"id": {"type": "string"},
					"text": {"type": "string"},
					"type": {"enum": ["yes_no", "single_choice", "multi_choice", "free_text"]},
					"options": {"type": "array", "items": {"type": "string"}},
					"impact": {"type": "string"},
					"related_assumption_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

// GenerateClarifications produces one round of questions, capped at
// three. A zero-question round signals the caller to skip to spec
// synthesis. Rounds beyond the cap are rejected.
func (w *Workers) GenerateClarifications(ctx context.Context, text string, roundNumber int) (*ClarificationRound, bool, error) {
	if roundNumber > MaxClarificationRounds {
		return nil, false, fmt.Errorf("ra: clarification round %d exceeds cap %d", roundNumber, MaxClarificationRounds)
	}

	var parsed struct {
		Questions []ClarificationQuestion `json:"questions"`
	}
	if err := w.ask(ctx, clarificationPrompt, text, "clarification", &parsed); err != nil {
		return nil, false, err
	}
	for i := range parsed.Questions {
		if parsed.Questions[i].ID == "" {
			parsed.Questions[i].ID = fmt.Sprintf("Q%d", i+1)
		}
	}
	if len(parsed.Questions) > MaxQuestionsPerRound {
		parsed.Questions = parsed.Questions[:MaxQuestionsPerRound]
	}

	round := &ClarificationRound{RoundNumber: roundNumber, Questions: parsed.Questions}
	if err := round.Validate(); err != nil {
		return nil, false, err
	}
	skipToSpec := len(parsed.Questions) == 0
	return round, skipToSpec, nil
}

const specSynthesizerPrompt = `You synthesize an execution-ready specification.
Respond with JSON: {"goal": "...", "acceptance_criteria": [either plain
strings or {"text": "...", "measurable": true, "metric": "...",
"threshold": 0}], "constraints": [], "non_goals": [], "open_items": [],
"risk_mitigations": []}.
Every acceptance criterion must be checkable by a machine or a reviewer.`

const specDraftSchema = `{
	"type": "object",
	"required": ["goal", "acceptance_criteria"],
	"properties": {
		"goal": {"type": "string", "minLength": 1},
		"acceptance_criteria": {
			"type": "array",
			"minItems": 1,
			"items": {
				"anyOf": [
					{"type": "string"},
					{
						"type": "object",
						"required": ["text", "measurable"],
						"properties": {
							"text": {"type": "string"},
							"measurable": {"type": "boolean"},
							"metric": {"type": "string"},
							"threshold": {"type": "number"}
						}
					}
				]
			}
		},
		"constraints": {"type": "array", "items": {"type": "string"}},
		"non_goals": {"type": "array", "items": {"type": "string"}},
		"open_items": {"type": "array", "items": {"type": "string"}},
		"risk_mitigations": {"type": "array", "items": {"type": "string"}}
	}
}`

// SynthesizeSpec produces a draft for the requirement, version 1 for a
// fresh synthesis or previousVersion+1 for a revision.
func (w *Workers) SynthesizeSpec(ctx context.Context, text, draftID string, previousVersion int) (*SpecDraft, error) {
	var draft SpecDraft
	if err := w.ask(ctx, specSynthesizerPrompt, text, "spec_draft", &draft); err != nil {
		return nil, err
	}
	draft.DraftID = draftID
	draft.Version = previousVersion + 1
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return &draft, nil
}

const riskChallengerBPrompt = `You attack a specification draft looking for gaps.
Respond with JSON: {"challenges": [{"id": "C1", "claim": "...",
"evidence": "...", "severity": "LOW|MEDIUM|HIGH",
"required_action": "clarify|spec_revision|block|log_only",
"counterexample": "..."}], "summary": "..."}.
Challenge the spec, not the requester.`

const challengesSchema = `{
	"type": "object",
	"required": ["challenges"],
	"properties": {
		"challenges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["claim", "severity", "required_action"],
				"properties": {
					"id": {"type": "string"},
					"claim": {"type": "string"},
					"evidence": {"type": "string"},
					"severity": {"enum": ["LOW", "MEDIUM", "HIGH"]},
					"required_action": {"enum": ["clarify", "spec_revision", "block", "log_only"]},
					"counterexample": {"type": "string"}
				}
			}
		},
		"summary": {"type": "string"}
	}
}`

// ChallengeSpec runs challenger phase B against a draft and computes
// the report verdict from unaddressed challenge counts.
func (w *Workers) ChallengeSpec(ctx context.Context, draft *SpecDraft, reportID string) (*ChallengeReport, error) {
	rendered := fmt.Sprintf("Goal: %s\nCriteria count: %d\nConstraints: %v\nOpen items: %v",
		draft.Goal, len(draft.AcceptanceCriteria), draft.Constraints, draft.OpenItems)

	var parsed struct {
		Challenges []Challenge `json:"challenges"`
		Summary    string      `json:"summary"`
	}
	if err := w.ask(ctx, riskChallengerBPrompt, rendered, "challenges", &parsed); err != nil {
		return nil, err
	}
	for i := range parsed.Challenges {
		if parsed.Challenges[i].ID == "" {
			parsed.Challenges[i].ID = fmt.Sprintf("C%d", i+1)
		}
	}
	if len(parsed.Challenges) > MaxChallengesPerReport {
		parsed.Challenges = parsed.Challenges[:MaxChallengesPerReport]
	}

	return &ChallengeReport{
		ReportID:   reportID,
		DraftID:    draft.DraftID,
		Challenges: parsed.Challenges,
		Verdict:    ComputeVerdict(parsed.Challenges),
		Summary:    parsed.Summary,
	}, nil
}
