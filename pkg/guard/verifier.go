package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const actor = "guard_bee"

// Verdict is the overall outcome of a verification pass.
type Verdict string

const (
	VerdictPass            Verdict = "PASS"
	VerdictConditionalPass Verdict = "CONDITIONAL_PASS"
	VerdictFail            Verdict = "FAIL"
)

// Report is the full result of one verification.
type Report struct {
	Verdict                 Verdict      `json:"verdict"`
	L1Passed                bool         `json:"l1_passed"`
	L2Passed                bool         `json:"l2_passed"`
	EvidenceCount           int          `json:"evidence_count"`
	Results                 []RuleResult `json:"results"`
	RemandReason            string       `json:"remand_reason,omitempty"`
	ImprovementInstructions []string     `json:"improvement_instructions,omitempty"`
	VerifiedAt              time.Time    `json:"verified_at"`
}

// Verifier holds the two rule tiers. L1 rules are blocking; L2 rules
// can only downgrade a pass to conditional. Rules run in registration
// order.
type Verifier struct {
	store  *akashic.Store
	l1     []Rule
	l2     []Rule
	logger *slog.Logger
}

// NewVerifier creates a verifier with the standard built-in rule set.
func NewVerifier(store *akashic.Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		store: store,
		l1: []Rule{
			DiffExists{},
			AllTestsPass{},
			CoverageThreshold{},
			LintClean{},
			TypeCheck{},
			PlanStructure{},
		},
		l2: []Rule{
			PlanGoalCoverage{},
		},
		logger: logger,
	}
}

// NewEmptyVerifier creates a verifier with no rules, for callers that
// assemble a custom rule set.
func NewEmptyVerifier(store *akashic.Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: store, logger: logger}
}

// RegisterL1 appends a blocking rule.
func (v *Verifier) RegisterL1(r Rule) { v.l1 = append(v.l1, r) }

// RegisterL2 appends an advisory rule.
func (v *Verifier) RegisterL2(r Rule) { v.l2 = append(v.l2, r) }

// Verify runs L1 then L2 over the evidence, appends the request and
// verdict events to the run stream, and returns the report.
func (v *Verifier) Verify(ctx context.Context, colonyID, taskID, runID string, evidence []Evidence, runContext map[string]any) (*Report, error) {
	evidenceTypes := make([]string, 0, len(evidence))
	for _, e := range evidence {
		evidenceTypes = append(evidenceTypes, e.Type)
	}
	if err := v.append(ctx, event.TypeGuardVerificationRequested, colonyID, taskID, runID, map[string]any{
		"evidence_count": len(evidence),
		"evidence_types": evidenceTypes,
	}); err != nil {
		return nil, err
	}

	report := &Report{
		EvidenceCount: len(evidence),
		L1Passed:      true,
		L2Passed:      true,
		VerifiedAt:    time.Now().UTC(),
	}

	var failedL1 []RuleResult
	for _, rule := range v.l1 {
		result := rule.Check(evidence, runContext)
		result.Level = LevelL1
		report.Results = append(report.Results, result)
		if !result.Passed {
			report.L1Passed = false
			failedL1 = append(failedL1, result)
		}
	}

	var failedL2 []RuleResult
	if report.L1Passed {
		for _, rule := range v.l2 {
			result := rule.Check(evidence, runContext)
			result.Level = LevelL2
			report.Results = append(report.Results, result)
			if !result.Passed {
				report.L2Passed = false
				failedL2 = append(failedL2, result)
			}
		}
	}

	var verdictType event.Type
	switch {
	case !report.L1Passed:
		report.Verdict = VerdictFail
		verdictType = event.TypeGuardFailed
		report.RemandReason = "failed rules: " + joinRuleNames(failedL1)
		for _, r := range failedL1 {
			report.ImprovementInstructions = append(report.ImprovementInstructions, r.Message)
		}
	case !report.L2Passed:
		report.Verdict = VerdictConditionalPass
		verdictType = event.TypeGuardConditionalPassed
		report.RemandReason = "advisory rules failed: " + joinRuleNames(failedL2)
		for _, r := range failedL2 {
			report.ImprovementInstructions = append(report.ImprovementInstructions, r.Message)
		}
	default:
		report.Verdict = VerdictPass
		verdictType = event.TypeGuardPassed
	}

	payload := map[string]any{
		"verdict":        string(report.Verdict),
		"l1_passed":      report.L1Passed,
		"l2_passed":      report.L2Passed,
		"evidence_count": report.EvidenceCount,
	}
	if report.RemandReason != "" {
		payload["remand_reason"] = report.RemandReason
		payload["improvement_instructions"] = report.ImprovementInstructions
	}
	if err := v.append(ctx, verdictType, colonyID, taskID, runID, payload); err != nil {
		return nil, err
	}

	v.logger.Info("guard verification complete",
		"run_id", runID, "task_id", taskID, "verdict", report.Verdict)
	return report, nil
}

func (v *Verifier) append(ctx context.Context, typ event.Type, colonyID, taskID, runID string, payload map[string]any) error {
	e, err := event.New(typ, actor, payload,
		event.WithRunID(runID),
		event.WithColonyID(colonyID),
		event.WithTaskID(taskID),
	)
	if err != nil {
		return fmt.Errorf("guard: build %s event: %w", typ, err)
	}
	return v.store.Append(ctx, e)
}

func joinRuleNames(results []RuleResult) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Rule)
	}
	return strings.Join(names, ", ")
}
