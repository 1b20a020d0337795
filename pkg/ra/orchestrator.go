package ra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/fsm"
)

const orchestratorActor = "ra_orchestrator"

// maxSpecRevisions bounds the challenge-review revision loop.
const maxSpecRevisions = 2

// AnswerFunc supplies user answers for a clarification round. The
// second return aborts the analysis when true.
type AnswerFunc func(round ClarificationRound) (answers []string, abandon bool)

// Orchestrator drives one requirement through the analysis machine,
// appending an ra.* event for every phase so the run stream carries a
// complete audit chain.
type Orchestrator struct {
	store     *akashic.Store
	workers   *Workers
	scorer    *Scorer
	gate      *Gate
	persister *Persister
	machine   *StateMachine
	answer    AnswerFunc
	logger    *slog.Logger

	runID       string
	text        string
	scores      AmbiguityScores
	path        AnalysisPath
	graph       *IntentGraph
	assumptions []Assumption
	hypotheses  []FailureHypothesis
	rounds      []ClarificationRound
	draft       *SpecDraft
	report      *ChallengeReport
	gateResult  GateResult
	revisions   int
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithAnswerFunc installs the clarification answer source. Without one,
// open questions resolve by proceeding on recorded assumptions.
func WithAnswerFunc(fn AnswerFunc) Option {
	return func(o *Orchestrator) { o.answer = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires an orchestrator for a single requirement run.
func NewOrchestrator(store *akashic.Store, workers *Workers, persister *Persister, runID string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		workers:   workers,
		scorer:    NewScorer(),
		gate:      NewGate(),
		persister: persister,
		machine:   NewStateMachine(),
		runID:     runID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the machine's current state.
func (o *Orchestrator) State() fsm.State { return o.machine.Current() }

// Draft returns the current spec draft, nil before synthesis.
func (o *Orchestrator) Draft() *SpecDraft { return o.draft }

// GateResult returns the last gate evaluation.
func (o *Orchestrator) GateResult() GateResult { return o.gateResult }

// Scores returns the triage ambiguity scores.
func (o *Orchestrator) Scores() AmbiguityScores { return o.scores }

// Path returns the chosen analysis path.
func (o *Orchestrator) Path() AnalysisPath { return o.path }

// emit appends an event to the run stream and applies it to the
// machine. The store chains prev_hash per stream, so each run carries
// its own audit chain.
func (o *Orchestrator) emit(ctx context.Context, typ event.Type, payload map[string]any) error {
	e, err := event.New(typ, orchestratorActor, payload, event.WithRunID(o.runID))
	if err != nil {
		return fmt.Errorf("ra: build %s: %w", typ, err)
	}
	if err := o.store.Append(ctx, e); err != nil {
		return err
	}
	if _, err := o.machine.Transition(e); err != nil {
		return err
	}
	o.logger.Debug("ra phase complete", "run_id", o.runID, "event", typ, "state", o.machine.Current())
	return nil
}

// record appends an event without transitioning, for phase-internal
// audit entries.
func (o *Orchestrator) record(ctx context.Context, typ event.Type, payload map[string]any) error {
	e, err := event.New(typ, orchestratorActor, payload, event.WithRunID(o.runID))
	if err != nil {
		return fmt.Errorf("ra: build %s: %w", typ, err)
	}
	return o.store.Append(ctx, e)
}

// Intake scores the requirement with the cold-start context default and
// moves the machine to TRIAGE.
func (o *Orchestrator) Intake(ctx context.Context, text string) error {
	return o.intake(ctx, text, o.scorer.Score(text))
}

// IntakeWithContext is Intake with an externally supplied context
// sufficiency, for callers that already foraged context.
func (o *Orchestrator) IntakeWithContext(ctx context.Context, text string, contextSufficiency float64) error {
	return o.intake(ctx, text, o.scorer.ScoreWithContext(text, contextSufficiency))
}

func (o *Orchestrator) intake(ctx context.Context, text string, scores AmbiguityScores) error {
	if o.machine.Current() != StateIntake {
		return fmt.Errorf("ra: intake called in state %s", o.machine.Current())
	}
	o.text = text
	o.scores = scores
	o.path = ClassifyPath(o.scores)

	if err := o.record(ctx, event.TypeRAIntakeReceived, map[string]any{
		"text_length": len(text),
	}); err != nil {
		return err
	}
	return o.emit(ctx, event.TypeRATriageCompleted, map[string]any{
		"ambiguity":           o.scores.Ambiguity,
		"context_sufficiency": o.scores.ContextSufficiency,
		"execution_risk":      o.scores.ExecutionRisk,
		"path":                string(o.path),
	})
}

// Step performs the work of the current phase and advances the
// machine once. Terminal states are a no-op.
func (o *Orchestrator) Step(ctx context.Context) error {
	switch o.machine.Current() {
	case StateTriage:
		return o.stepEnrichContext(ctx)
	case StateContextEnrich:
		return o.stepAfterEnrich(ctx)
	case StateWebResearch:
		return o.stepBuildHypotheses(ctx)
	case StateHypothesisBuild:
		return o.stepGenerateClarifications(ctx)
	case StateClarifyGen:
		return o.stepResolveClarifications(ctx)
	case StateUserFeedback:
		return o.stepIncorporateFeedback(ctx)
	case StateSpecSynthesis:
		return o.stepPersistSpec(ctx)
	case StateSpecPersist:
		return o.stepChallengeSpec(ctx)
	case StateChallengeReview:
		return o.stepDecideGate(ctx)
	case StateGuardGate:
		return o.stepComplete(ctx)
	case StateExecutionReady, StateExecutionReadyWithRisks, StateAbandoned:
		return nil
	default:
		return fmt.Errorf("ra: no step for state %s", o.machine.Current())
	}
}

// Run drives the machine until a terminal state.
func (o *Orchestrator) Run(ctx context.Context, text string) (fsm.State, error) {
	if err := o.Intake(ctx, text); err != nil {
		return o.machine.Current(), err
	}
	for !o.machine.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return o.machine.Current(), err
		}
		if err := o.Step(ctx); err != nil {
			return o.machine.Current(), err
		}
	}
	return o.machine.Current(), nil
}

func (o *Orchestrator) stepEnrichContext(ctx context.Context) error {
	graph, err := o.workers.MineIntent(ctx, o.text)
	if err != nil {
		return err
	}
	o.graph = graph
	// Mined structure raises context sufficiency above the cold default.
	o.scores.ContextSufficiency = clamp01(o.scores.ContextSufficiency + 0.3)

	return o.emit(ctx, event.TypeRAContextEnriched, map[string]any{
		"goals":    len(graph.Goals),
		"unknowns": len(graph.Unknowns),
	})
}

// stepAfterEnrich decides whether the run needs web research before
// hypothesis building.
func (o *Orchestrator) stepAfterEnrich(ctx context.Context) error {
	if o.path == PathFullAnalysis && o.scores.ContextSufficiency < 0.5 {
		return o.emit(ctx, event.TypeRAWebResearched, map[string]any{
			"queries": o.graph.Unknowns,
		})
	}
	if o.path == PathInstantPass {
		return o.emit(ctx, event.TypeRAWebSkipped, map[string]any{
			"reason": "instant pass",
		})
	}
	return o.buildHypothesesAndEmit(ctx)
}

func (o *Orchestrator) stepBuildHypotheses(ctx context.Context) error {
	return o.buildHypothesesAndEmit(ctx)
}

func (o *Orchestrator) buildHypothesesAndEmit(ctx context.Context) error {
	assumptions, unknowns, err := o.workers.MapAssumptions(ctx, o.text, o.graph)
	if err != nil {
		return err
	}
	o.assumptions = assumptions

	hypotheses, err := o.workers.BuildHypotheses(ctx, o.text)
	if err != nil {
		return err
	}
	o.hypotheses = hypotheses

	return o.emit(ctx, event.TypeRAHypothesisBuilt, map[string]any{
		"assumptions": len(assumptions),
		"unknowns":    len(unknowns),
		"hypotheses":  len(hypotheses),
	})
}

func (o *Orchestrator) stepGenerateClarifications(ctx context.Context) error {
	roundNumber := len(o.rounds) + 1
	if roundNumber > MaxClarificationRounds {
		// Round budget spent: proceed on assumptions.
		return o.emit(ctx, event.TypeRAClarifyGenerated, map[string]any{
			"questions": 0,
			"reason":    "round budget exhausted",
		})
	}

	round, skip, err := o.workers.GenerateClarifications(ctx, o.text, roundNumber)
	if err != nil {
		return err
	}
	if !skip {
		o.rounds = append(o.rounds, *round)
	}
	return o.emit(ctx, event.TypeRAClarifyGenerated, map[string]any{
		"round":     roundNumber,
		"questions": len(round.Questions),
	})
}

// stepResolveClarifications either routes open questions to the user or
// synthesizes the spec directly.
func (o *Orchestrator) stepResolveClarifications(ctx context.Context) error {
	lastRound := o.lastOpenRound()
	if lastRound == nil || o.answer == nil {
		return o.synthesizeAndEmit(ctx)
	}
	answers, abandon := o.answer(*lastRound)
	payload := map[string]any{"round": lastRound.RoundNumber, "abandon": abandon}
	for i := range lastRound.Questions {
		if i < len(answers) {
			lastRound.Questions[i].Answer = answers[i]
		}
	}
	if err := o.emit(ctx, event.TypeRAUserResponded, payload); err != nil {
		return err
	}
	if abandon {
		return o.emit(ctx, event.TypeRACompleted, map[string]any{
			"outcome": OutcomeAbandoned,
			"reason":  "abandoned during clarification",
		})
	}
	return nil
}

func (o *Orchestrator) lastOpenRound() *ClarificationRound {
	if len(o.rounds) == 0 {
		return nil
	}
	last := &o.rounds[len(o.rounds)-1]
	if len(last.Questions) == 0 {
		return nil
	}
	for _, q := range last.Questions {
		if q.Answer == "" {
			return last
		}
	}
	return nil
}

func (o *Orchestrator) stepIncorporateFeedback(ctx context.Context) error {
	return o.synthesizeAndEmit(ctx)
}

func (o *Orchestrator) synthesizeAndEmit(ctx context.Context) error {
	draftID := uuid.NewString()
	previousVersion := 0
	if o.draft != nil {
		draftID = o.draft.DraftID
		previousVersion = o.draft.Version
	}
	draft, err := o.workers.SynthesizeSpec(ctx, o.renderSynthesisInput(), draftID, previousVersion)
	if err != nil {
		return err
	}
	o.draft = draft
	return o.emit(ctx, event.TypeRASpecSynthesized, map[string]any{
		"draft_id": draft.DraftID,
		"version":  draft.Version,
		"criteria": len(draft.AcceptanceCriteria),
	})
}

// renderSynthesisInput folds the accumulated analysis into the
// synthesizer's user prompt.
func (o *Orchestrator) renderSynthesisInput() string {
	input := o.text
	for _, a := range o.assumptions {
		input += fmt.Sprintf("\nAssumption (%s): %s", a.Status, a.Text)
	}
	for _, r := range o.rounds {
		for _, q := range r.Questions {
			if q.Answer != "" {
				input += fmt.Sprintf("\nQ: %s\nA: %s", q.Text, q.Answer)
			}
		}
	}
	for _, h := range o.hypotheses {
		if h.Mitigation != "" {
			input += fmt.Sprintf("\nRisk (%s): %s. Mitigation: %s", h.Severity, h.Text, h.Mitigation)
		}
	}
	return input
}

func (o *Orchestrator) stepPersistSpec(ctx context.Context) error {
	if o.persister != nil {
		id, err := o.persister.Persist(o.draft)
		if err != nil {
			return err
		}
		return o.emit(ctx, event.TypeRASpecPersisted, map[string]any{
			"document_id": id,
			"file_path":   o.draft.FilePath,
		})
	}
	return o.emit(ctx, event.TypeRASpecPersisted, map[string]any{
		"document_id": "",
	})
}

func (o *Orchestrator) stepChallengeSpec(ctx context.Context) error {
	report, err := o.workers.ChallengeSpec(ctx, o.draft, uuid.NewString())
	if err != nil {
		return err
	}
	o.report = report
	return o.emit(ctx, event.TypeRAChallengeReviewed, map[string]any{
		"report_id":  report.ReportID,
		"verdict":    string(report.Verdict),
		"challenges": len(report.Challenges),
	})
}

func (o *Orchestrator) stepDecideGate(ctx context.Context) error {
	if o.report != nil && o.report.Verdict == VerdictBlock && o.revisions < maxSpecRevisions {
		o.revisions++
		return o.synthesizeAndEmit(ctx)
	}

	o.gateResult = o.gate.Evaluate(o.draft, o.scores, o.hypotheses, o.report)
	return o.emit(ctx, event.TypeRAGateDecided, map[string]any{
		"passed":           o.gateResult.Passed,
		"required_actions": o.gateResult.RequiredActions,
	})
}

// stepComplete routes the terminal outcome through the ra.completed
// payload.
func (o *Orchestrator) stepComplete(ctx context.Context) error {
	outcome := OutcomeAbandoned
	switch {
	case o.gateResult.Passed && (o.report == nil || len(o.report.Challenges) == 0):
		outcome = OutcomeExecutionReady
	case o.gateResult.Passed:
		outcome = OutcomeExecutionReadyWithRisks
	default:
		if o.canLoopToClarify() {
			round, skip, err := o.workers.GenerateClarifications(ctx, o.renderRemandInput(), len(o.rounds)+1)
			if err != nil {
				return err
			}
			if !skip {
				o.rounds = append(o.rounds, *round)
				return o.emit(ctx, event.TypeRAClarifyGenerated, map[string]any{
					"round":     round.RoundNumber,
					"questions": len(round.Questions),
					"reason":    "gate remand",
				})
			}
		}
	}
	return o.emit(ctx, event.TypeRACompleted, map[string]any{
		"outcome":  outcome,
		"draft_id": draftIDOrEmpty(o.draft),
	})
}

// canLoopToClarify allows one gate remand per remaining clarification
// round budget.
func (o *Orchestrator) canLoopToClarify() bool {
	return len(o.rounds) < MaxClarificationRounds && o.answer != nil
}

// renderRemandInput frames a gate remand as fresh clarification input.
func (o *Orchestrator) renderRemandInput() string {
	input := o.text
	for _, action := range o.gateResult.RequiredActions {
		input += "\nGate remand: " + action
	}
	return input
}

func draftIDOrEmpty(d *SpecDraft) string {
	if d == nil {
		return ""
	}
	return d.DraftID
}
