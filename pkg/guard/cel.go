package guard

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRule evaluates a beekeeper-authored CEL expression against the
// evidence set. The expression sees two variables: `evidence`, a list
// of {type, data} maps, and `context`, the run context map. It must
// yield a bool; evaluation errors fail closed.
type CELRule struct {
	name string
	expr string
	env  *cel.Env

	mu  sync.Mutex
	prg cel.Program
}

// NewCELRule compiles the expression eagerly so malformed rules are
// rejected at registration time, not mid-verification.
func NewCELRule(name, expr string) (*CELRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("evidence", cel.DynType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: cel environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard: compile rule %s: %w", name, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: program rule %s: %w", name, err)
	}

	return &CELRule{name: name, expr: expr, env: env, prg: prg}, nil
}

func (r *CELRule) Name() string { return r.name }

func (r *CELRule) Check(evidence []Evidence, context map[string]any) RuleResult {
	evList := make([]any, 0, len(evidence))
	for _, e := range evidence {
		evList = append(evList, map[string]any{
			"type": e.Type,
			"data": e.Data,
		})
	}
	if context == nil {
		context = map[string]any{}
	}

	r.mu.Lock()
	prg := r.prg
	r.mu.Unlock()

	out, _, err := prg.Eval(map[string]any{
		"evidence": evList,
		"context":  context,
	})
	if err != nil {
		return fail(r.name, "rule evaluation failed: %v", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fail(r.name, "rule did not yield a boolean")
	}
	if !ok {
		return fail(r.name, "expression %q not satisfied", r.expr)
	}
	return pass(r.name)
}
