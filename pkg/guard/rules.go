// Package guard is the quality gate for colony output. A verifier runs
// two levels of rules over submitted evidence: L1 rules are blocking,
// L2 rules downgrade a pass to conditional. Verdicts are appended to
// the run stream as guard.* events.
package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/projection"
)

// Rule tiers. L1 rules block; L2 rules downgrade.
const (
	LevelL1 = "L1"
	LevelL2 = "L2"
)

// Evidence is one artifact a colony submits for verification, for
// example a diff summary or a test run result.
type Evidence struct {
	Type        string         `json:"type"`
	Source      string         `json:"source,omitempty"`
	Data        map[string]any `json:"data"`
	CollectedAt time.Time      `json:"collected_at,omitempty"`
}

// RuleResult is one rule's judgment. Level is set by the verifier from
// the tier the rule ran in.
type RuleResult struct {
	Rule    string         `json:"rule"`
	Level   string         `json:"level,omitempty"`
	Passed  bool           `json:"passed"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Rule checks evidence. Context carries run-scoped values such as the
// original goal.
type Rule interface {
	Name() string
	Check(evidence []Evidence, context map[string]any) RuleResult
}

func pass(name string) RuleResult {
	return RuleResult{Rule: name, Passed: true}
}

func fail(name, format string, args ...any) RuleResult {
	return RuleResult{Rule: name, Passed: false, Message: fmt.Sprintf(format, args...)}
}

func findEvidence(evidence []Evidence, typ string) (Evidence, bool) {
	for _, e := range evidence {
		if e.Type == typ {
			return e, true
		}
	}
	return Evidence{}, false
}

func dataFloat(data map[string]any, key string) (float64, bool) {
	return projection.Numeric(data[key])
}

// DiffExists requires a diff with at least one changed file.
type DiffExists struct{}

func (DiffExists) Name() string { return "diff_exists" }

func (r DiffExists) Check(evidence []Evidence, _ map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "diff")
	if !ok {
		return fail(r.Name(), "no diff evidence submitted")
	}
	changed, _ := dataFloat(e.Data, "files_changed")
	if changed < 1 {
		return fail(r.Name(), "diff changed no files")
	}
	return pass(r.Name())
}

// AllTestsPass requires every test in the submitted run to pass.
type AllTestsPass struct{}

func (AllTestsPass) Name() string { return "all_tests_pass" }

func (r AllTestsPass) Check(evidence []Evidence, _ map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "test_result")
	if !ok {
		return fail(r.Name(), "no test_result evidence submitted")
	}
	total, _ := dataFloat(e.Data, "total")
	passed, _ := dataFloat(e.Data, "passed")
	if total < 1 {
		return fail(r.Name(), "test run contained no tests")
	}
	if passed < total {
		return fail(r.Name(), "%d of %d tests failed", int(total-passed), int(total))
	}
	return pass(r.Name())
}

// CoverageThreshold requires coverage at or above the threshold.
type CoverageThreshold struct {
	// MinPercent defaults to 80 when zero.
	MinPercent float64
}

func (CoverageThreshold) Name() string { return "coverage_threshold" }

func (r CoverageThreshold) Check(evidence []Evidence, _ map[string]any) RuleResult {
	min := r.MinPercent
	if min == 0 {
		min = 80
	}
	e, ok := findEvidence(evidence, "test_coverage")
	if !ok {
		return fail(r.Name(), "no test_coverage evidence submitted")
	}
	pct, _ := dataFloat(e.Data, "coverage_percent")
	if pct < min {
		return fail(r.Name(), "coverage %.1f%% below threshold %.1f%%", pct, min)
	}
	return pass(r.Name())
}

// LintClean requires a lint run with zero errors.
type LintClean struct{}

func (LintClean) Name() string { return "lint_clean" }

func (r LintClean) Check(evidence []Evidence, _ map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "lint_result")
	if !ok {
		return fail(r.Name(), "no lint_result evidence submitted")
	}
	errs, _ := dataFloat(e.Data, "errors")
	if errs > 0 {
		return fail(r.Name(), "lint reported %d errors", int(errs))
	}
	return pass(r.Name())
}

// TypeCheck requires a clean type check when one was run. Not every
// colony works in a typed language, so absent evidence passes.
type TypeCheck struct{}

func (TypeCheck) Name() string { return "type_check" }

func (r TypeCheck) Check(evidence []Evidence, _ map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "type_check")
	if !ok {
		return pass(r.Name())
	}
	errs, _ := dataFloat(e.Data, "errors")
	if errs > 0 {
		return fail(r.Name(), "type check reported %d errors", int(errs))
	}
	return pass(r.Name())
}

// planTask is the task shape inside plan evidence.
type planTask struct {
	id   string
	goal string
	deps []string
}

func planTasks(e Evidence) []planTask {
	raw, _ := e.Data["tasks"].([]any)
	tasks := make([]planTask, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := planTask{}
		t.id, _ = m["id"].(string)
		t.goal, _ = m["goal"].(string)
		if deps, ok := m["dependencies"].([]any); ok {
			for _, d := range deps {
				if s, ok := d.(string); ok {
					t.deps = append(t.deps, s)
				}
			}
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// PlanStructure validates a plan's dependency graph: every dependency
// must name a known task, the graph must be acyclic, and goals must be
// unique.
type PlanStructure struct{}

func (PlanStructure) Name() string { return "plan_structure" }

func (r PlanStructure) Check(evidence []Evidence, _ map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "plan")
	if !ok {
		return pass(r.Name())
	}
	tasks := planTasks(e)

	known := make(map[string]struct{}, len(tasks))
	goals := make(map[string]string, len(tasks))
	for _, t := range tasks {
		known[t.id] = struct{}{}
		if prev, dup := goals[t.goal]; dup {
			return fail(r.Name(), "tasks %s and %s share goal %q", prev, t.id, t.goal)
		}
		goals[t.goal] = t.id
	}
	for _, t := range tasks {
		for _, dep := range t.deps {
			if _, ok := known[dep]; !ok {
				return fail(r.Name(), "task %s depends on unknown task %s", t.id, dep)
			}
		}
	}
	if cycleStart := findCycle(tasks); cycleStart != "" {
		return fail(r.Name(), "dependency cycle involving task %s", cycleStart)
	}
	return pass(r.Name())
}

// findCycle runs a colored DFS and returns a task inside a cycle, or
// empty when the graph is acyclic.
func findCycle(tasks []planTask) string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.id] = t.deps
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, t := range tasks {
		if color[t.id] == white {
			if hit := visit(t.id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// PlanGoalCoverage is an L2 rule: the plan must decompose the goal, not
// parrot it, and each task goal must carry real content.
type PlanGoalCoverage struct{}

func (PlanGoalCoverage) Name() string { return "plan_goal_coverage" }

func (r PlanGoalCoverage) Check(evidence []Evidence, context map[string]any) RuleResult {
	e, ok := findEvidence(evidence, "plan")
	if !ok {
		return pass(r.Name())
	}
	tasks := planTasks(e)
	if len(tasks) == 0 {
		return pass(r.Name())
	}

	goal, _ := context["goal"].(string)
	goal = strings.ToLower(strings.TrimSpace(goal))

	repeats := 0
	for _, t := range tasks {
		tg := strings.TrimSpace(t.goal)
		if len(tg) < 5 {
			return fail(r.Name(), "task %s goal %q is too short", t.id, t.goal)
		}
		if goal != "" && strings.ToLower(tg) == goal {
			repeats++
		}
	}
	if repeats*2 > len(tasks) {
		return fail(r.Name(), "%d of %d tasks repeat the original goal", repeats, len(tasks))
	}
	return pass(r.Name())
}
