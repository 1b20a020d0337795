package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

func cleanEvidence() []Evidence {
	return []Evidence{
		{Type: "diff", Data: map[string]any{"files_changed": 2}},
		{Type: "test_result", Data: map[string]any{"total": 50, "passed": 50}},
		{Type: "test_coverage", Data: map[string]any{"coverage_percent": 95}},
		{Type: "lint_result", Data: map[string]any{"errors": 0}},
	}
}

func newTestVerifier(t *testing.T) (*Verifier, *akashic.Store) {
	t.Helper()
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	v := NewEmptyVerifier(store, nil)
	v.RegisterL1(DiffExists{})
	v.RegisterL1(AllTestsPass{})
	v.RegisterL1(CoverageThreshold{})
	v.RegisterL1(LintClean{})
	v.RegisterL2(PlanGoalCoverage{})
	return v, store
}

func TestVerify_CleanPass(t *testing.T) {
	v, store := newTestVerifier(t)

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", cleanEvidence(), nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, report.Verdict)
	assert.True(t, report.L1Passed)
	assert.True(t, report.L2Passed)
	assert.Equal(t, 4, report.EvidenceCount)
	assert.Empty(t, report.RemandReason)

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeGuardVerificationRequested, events[0].Type)
	assert.Equal(t, event.TypeGuardPassed, events[1].Type)
}

func TestVerify_DefaultRuleSetPasses(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	v := NewVerifier(store, nil)

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", cleanEvidence(), nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, report.Verdict)
	assert.True(t, report.L1Passed)
	assert.Equal(t, 4, report.EvidenceCount)
	assert.False(t, report.VerifiedAt.IsZero())

	for _, r := range report.Results {
		if r.Rule == "plan_goal_coverage" {
			assert.Equal(t, LevelL2, r.Level)
		} else {
			assert.Equal(t, LevelL1, r.Level)
		}
	}

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, event.TypeGuardPassed, events[len(events)-1].Type)
}

func TestTypeCheck_EvidenceIsOptional(t *testing.T) {
	rule := TypeCheck{}
	assert.True(t, rule.Check(nil, nil).Passed)
	assert.True(t, rule.Check(cleanEvidence(), nil).Passed)

	clean := []Evidence{{Type: "type_check", Data: map[string]any{"errors": 0}}}
	assert.True(t, rule.Check(clean, nil).Passed)

	dirty := []Evidence{{Type: "type_check", Data: map[string]any{"errors": 2}}}
	res := rule.Check(dirty, nil)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "2 errors")
}

func TestVerify_L1FailureRemands(t *testing.T) {
	v, store := newTestVerifier(t)

	evidence := cleanEvidence()
	evidence[1] = Evidence{Type: "test_result", Data: map[string]any{"total": 50, "passed": 47}}
	evidence[3] = Evidence{Type: "lint_result", Data: map[string]any{"errors": 3}}

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", evidence, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, report.Verdict)
	assert.False(t, report.L1Passed)
	assert.Contains(t, report.RemandReason, "all_tests_pass")
	assert.Contains(t, report.RemandReason, "lint_clean")
	assert.Len(t, report.ImprovementInstructions, 2)

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, event.TypeGuardFailed, events[len(events)-1].Type)
	assert.Contains(t, events[len(events)-1].Payload["remand_reason"], "all_tests_pass")
}

func TestVerify_L2FailureIsConditional(t *testing.T) {
	v, store := newTestVerifier(t)

	evidence := append(cleanEvidence(), Evidence{
		Type: "plan",
		Data: map[string]any{"tasks": []any{
			map[string]any{"id": "T1", "goal": "ok"},
		}},
	})

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", evidence, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictConditionalPass, report.Verdict)
	assert.True(t, report.L1Passed)
	assert.False(t, report.L2Passed)

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, event.TypeGuardConditionalPassed, events[len(events)-1].Type)
}

func TestVerify_L1FailureSkipsL2(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	v := NewEmptyVerifier(store, nil)
	v.RegisterL1(DiffExists{})
	l2Ran := false
	v.RegisterL2(ruleFunc{name: "spy", fn: func() RuleResult {
		l2Ran = true
		return pass("spy")
	}})

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, report.Verdict)
	assert.False(t, l2Ran, "L2 must not run after an L1 failure")
}

type ruleFunc struct {
	name string
	fn   func() RuleResult
}

func (r ruleFunc) Name() string { return r.name }

func (r ruleFunc) Check([]Evidence, map[string]any) RuleResult { return r.fn() }

func TestPlanStructure(t *testing.T) {
	rule := PlanStructure{}

	valid := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "set up schema"},
		map[string]any{"id": "T2", "goal": "write handlers", "dependencies": []any{"T1"}},
	}}}}
	assert.True(t, rule.Check(valid, nil).Passed)

	unknownDep := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "set up schema", "dependencies": []any{"T9"}},
	}}}}
	res := rule.Check(unknownDep, nil)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "unknown task T9")

	cycle := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "first step", "dependencies": []any{"T2"}},
		map[string]any{"id": "T2", "goal": "second step", "dependencies": []any{"T1"}},
	}}}}
	assert.False(t, rule.Check(cycle, nil).Passed)

	dupGoal := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "same goal"},
		map[string]any{"id": "T2", "goal": "same goal"},
	}}}}
	assert.False(t, rule.Check(dupGoal, nil).Passed)
}

func TestPlanGoalCoverage(t *testing.T) {
	rule := PlanGoalCoverage{}
	ctx := map[string]any{"goal": "build the service"}

	parrot := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "build the service"},
		map[string]any{"id": "T2", "goal": "build the service"},
		map[string]any{"id": "T3", "goal": "write documentation"},
	}}}}
	res := rule.Check(parrot, ctx)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "repeat the original goal")

	decomposed := []Evidence{{Type: "plan", Data: map[string]any{"tasks": []any{
		map[string]any{"id": "T1", "goal": "design the schema"},
		map[string]any{"id": "T2", "goal": "implement endpoints"},
	}}}}
	assert.True(t, rule.Check(decomposed, ctx).Passed)
}

func TestCoverageThreshold_CustomMinimum(t *testing.T) {
	rule := CoverageThreshold{MinPercent: 90}
	evidence := []Evidence{{Type: "test_coverage", Data: map[string]any{"coverage_percent": 85}}}
	assert.False(t, rule.Check(evidence, nil).Passed)
	assert.True(t, CoverageThreshold{}.Check(evidence, nil).Passed, "default threshold is 80")
}

func TestCELRule(t *testing.T) {
	rule, err := NewCELRule("min_evidence", `size(evidence) >= 2`)
	require.NoError(t, err)

	assert.False(t, rule.Check([]Evidence{{Type: "diff"}}, nil).Passed)
	assert.True(t, rule.Check(cleanEvidence(), nil).Passed)

	ctxRule, err := NewCELRule("trusted", `context.trust_level >= 2`)
	require.NoError(t, err)
	assert.True(t, ctxRule.Check(nil, map[string]any{"trust_level": 3}).Passed)
	assert.False(t, ctxRule.Check(nil, map[string]any{"trust_level": 1}).Passed)

	_, err = NewCELRule("broken", `this is not CEL`)
	assert.Error(t, err)
}

func TestCELRule_InVerifier(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	v := NewEmptyVerifier(store, nil)

	rule, err := NewCELRule("has_diff", `evidence.exists(e, e.type == "diff")`)
	require.NoError(t, err)
	v.RegisterL1(rule)

	report, err := v.Verify(context.Background(), "C1", "T1", "R1", cleanEvidence(), nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, report.Verdict)
}
