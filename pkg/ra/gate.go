package ra

import (
	"fmt"
	"strings"
)

// Gate is the rule-based final check before a spec leaves analysis.
// Unlike the LLM workers it is deterministic: the same inputs always
// produce the same result.
type Gate struct{}

// NewGate creates the gate.
func NewGate() *Gate { return &Gate{} }

// Evaluate runs all checks. passed is the conjunction; each failed
// check contributes a required action.
func (g *Gate) Evaluate(draft *SpecDraft, scores AmbiguityScores, hypotheses []FailureHypothesis, report *ChallengeReport) GateResult {
	checks := []GateCheck{
		g.goalClarity(draft),
		g.successTestability(draft),
		g.constraintsExplicit(draft),
		g.risksAddressed(hypotheses),
		g.ambiguityThreshold(scores),
		g.challengesResolved(report),
		// Slots 7 and 8 are reserved for beekeeper extensions and
		// always pass until bound.
		{Name: "reserved_7", Passed: true},
		{Name: "reserved_8", Passed: true},
	}

	result := GateResult{Passed: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			result.Passed = false
			result.RequiredActions = append(result.RequiredActions,
				fmt.Sprintf("%s: %s", c.Name, c.Reason))
		}
	}
	return result
}

func (g *Gate) goalClarity(draft *SpecDraft) GateCheck {
	check := GateCheck{Name: "goal_clarity", Passed: true}
	goal := strings.TrimSpace(draft.Goal)
	if goal == "" {
		check.Passed = false
		check.Reason = "goal is empty"
	} else if len(strings.Fields(goal)) < 3 {
		check.Passed = false
		check.Reason = "goal is too thin to drive execution"
	}
	return check
}

func (g *Gate) successTestability(draft *SpecDraft) GateCheck {
	check := GateCheck{Name: "success_testability", Passed: true}
	for _, c := range draft.AcceptanceCriteria {
		if !c.IsStructured() {
			check.Passed = false
			check.Reason = fmt.Sprintf("criterion %q is unstructured", c.Text())
			return check
		}
		if !c.Structured.Measurable {
			check.Passed = false
			check.Reason = fmt.Sprintf("criterion %q is not measurable", c.Text())
			return check
		}
	}
	return check
}

func (g *Gate) constraintsExplicit(draft *SpecDraft) GateCheck {
	check := GateCheck{Name: "constraints_explicit", Passed: true}
	if len(draft.Constraints) == 0 {
		check.Passed = false
		check.Reason = "no constraints recorded"
	}
	return check
}

func (g *Gate) risksAddressed(hypotheses []FailureHypothesis) GateCheck {
	check := GateCheck{Name: "risks_addressed", Passed: true}
	for _, h := range hypotheses {
		if h.Severity == SeverityHigh && strings.TrimSpace(h.Mitigation) == "" {
			check.Passed = false
			check.Reason = fmt.Sprintf("high-severity hypothesis %s has no mitigation", h.ID)
			return check
		}
	}
	return check
}

func (g *Gate) ambiguityThreshold(scores AmbiguityScores) GateCheck {
	check := GateCheck{Name: "ambiguity_threshold", Passed: true}
	if !(scores.Ambiguity < 0.5) {
		check.Passed = false
		check.Reason = fmt.Sprintf("ambiguity %.2f is not below 0.5", scores.Ambiguity)
	}
	return check
}

func (g *Gate) challengesResolved(report *ChallengeReport) GateCheck {
	check := GateCheck{Name: "challenges_resolved", Passed: true}
	if report != nil && report.Verdict == VerdictBlock {
		check.Passed = false
		check.Reason = "challenge report verdict is block"
	}
	return check
}
