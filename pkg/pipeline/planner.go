// Package pipeline turns a goal into an executable task plan, dispatches
// tasks to workers, retries failures, and gates irreversible work behind
// human approval.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hiveforge-labs/hiveforge/pkg/llm"
)

// maxPlanTasks bounds a single plan; anything beyond is truncated.
const maxPlanTasks = 10

// PlannedTask is one node of the plan DAG.
type PlannedTask struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is a validated task DAG.
type Plan struct {
	Tasks     []PlannedTask `json:"tasks"`
	Reasoning string        `json:"reasoning,omitempty"`
}

// PlanError reports why a model-produced plan was rejected.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return "pipeline: invalid plan: " + e.Reason
}

const plannerSystemPrompt = `You are a task planner for a multi-agent swarm.
Decompose the user's goal into independent, concrete tasks.
Respond with a JSON object of the form
{"tasks": [{"id": "T1", "goal": "...", "depends_on": ["T0"]}], "reasoning": "..."}
Keep tasks small enough for a single worker and list dependencies explicitly.`

const planSchema = `{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["goal"],
				"properties": {
					"id": {"type": "string"},
					"goal": {"type": "string"},
					"depends_on": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"reasoning": {"type": "string"}
	}
}`

// Planner asks the model for a decomposition and validates it into a
// Plan.
type Planner struct {
	client    llm.Client
	validator *llm.Validator
}

// NewPlanner creates a planner over the given chat client.
func NewPlanner(client llm.Client) (*Planner, error) {
	v := llm.NewValidator()
	if err := v.Register("plan", planSchema); err != nil {
		return nil, err
	}
	return &Planner{client: client, validator: v}, nil
}

// PlanGoal produces a validated plan for the goal. An empty model plan
// falls back to a single task carrying the goal verbatim.
func (p *Planner) PlanGoal(ctx context.Context, goal string) (*Plan, error) {
	resp, err := p.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: goal},
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: planner chat: %w", err)
	}

	var plan Plan
	if err := p.validator.DecodeValidated("plan", []byte(resp.Content), &plan); err != nil {
		return nil, err
	}
	return ValidatePlan(&plan, goal)
}

// ValidatePlan normalizes and checks a raw plan: truncates to the task
// cap, generates missing ids, and rejects unknown dependencies,
// duplicate goals, and cycles.
func ValidatePlan(plan *Plan, goal string) (*Plan, error) {
	if len(plan.Tasks) == 0 {
		plan.Tasks = []PlannedTask{{ID: "T1", Goal: goal}}
		return plan, nil
	}
	if len(plan.Tasks) > maxPlanTasks {
		plan.Tasks = plan.Tasks[:maxPlanTasks]
	}

	known := make(map[string]struct{}, len(plan.Tasks))
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = fmt.Sprintf("T%d", i+1)
		}
		known[plan.Tasks[i].ID] = struct{}{}
	}

	goals := make(map[string]string, len(plan.Tasks))
	for _, t := range plan.Tasks {
		key := strings.ToLower(strings.TrimSpace(t.Goal))
		if prev, dup := goals[key]; dup {
			return nil, &PlanError{Reason: fmt.Sprintf("tasks %s and %s share goal %q", prev, t.ID, t.Goal)}
		}
		goals[key] = t.ID
		for _, dep := range t.DependsOn {
			if _, ok := known[dep]; !ok {
				return nil, &PlanError{Reason: fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep)}
			}
		}
	}

	if _, err := ExecutionOrder(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ExecutionOrder layers the plan with Kahn's algorithm. Tasks in the
// same layer may run in parallel. A cycle raises PlanError.
func ExecutionOrder(plan *Plan) ([][]string, error) {
	indegree := make(map[string]int, len(plan.Tasks))
	dependents := make(map[string][]string)
	for _, t := range plan.Tasks {
		indegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var layers [][]string
	remaining := len(indegree)
	var frontier []string
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 {
		sort.Strings(frontier)
		layers = append(layers, frontier)
		remaining -= len(frontier)

		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		return nil, &PlanError{Reason: "dependency cycle in plan"}
	}
	return layers, nil
}

// ParsePlan decodes raw JSON into a Plan without validation, for replay
// of recorded planner output.
func ParsePlan(raw []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("pipeline: parse plan: %w", err)
	}
	return &plan, nil
}
