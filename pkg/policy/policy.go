// Package policy classifies worker tool actions and decides whether a
// human confirmation is required before execution. Classification is by
// tool name against frozen allow-lists; the decision crosses the action
// class with the colony's trust level.
package policy

import "fmt"

// ActionClass ranks how hard an action is to undo.
type ActionClass string

const (
	ReadOnly     ActionClass = "READ_ONLY"
	Reversible   ActionClass = "REVERSIBLE"
	Irreversible ActionClass = "IRREVERSIBLE"
)

// TrustLevel is how much autonomy a colony has earned.
type TrustLevel int

const (
	ReportOnly     TrustLevel = 0
	ProposeConfirm TrustLevel = 1
	AutoNotify     TrustLevel = 2
	FullDelegation TrustLevel = 3
)

func (t TrustLevel) String() string {
	switch t {
	case ReportOnly:
		return "REPORT_ONLY"
	case ProposeConfirm:
		return "PROPOSE_CONFIRM"
	case AutoNotify:
		return "AUTO_NOTIFY"
	case FullDelegation:
		return "FULL_DELEGATION"
	default:
		return fmt.Sprintf("TRUST_LEVEL_%d", int(t))
	}
}

// Valid reports whether t is within the defined range.
func (t TrustLevel) Valid() bool {
	return t >= ReportOnly && t <= FullDelegation
}

// Decision is the outcome of the confirmation matrix.
type Decision string

const (
	// Auto executes without confirmation or notification.
	Auto Decision = "auto"
	// AutoWithNotify executes and notifies the beekeeper afterwards.
	AutoWithNotify Decision = "auto_notify"
	// Confirm blocks until a human approves.
	Confirm Decision = "confirm"
)

// The allow-lists are frozen: changing an entry changes replay semantics
// for every recorded run, so additions go through new tool names.
var readOnlyTools = map[string]struct{}{
	"read_file":      {},
	"list_files":     {},
	"search_code":    {},
	"grep":           {},
	"glob":           {},
	"git_status":     {},
	"git_log":        {},
	"git_diff":       {},
	"web_search":     {},
	"fetch_url":      {},
	"inspect_schema": {},
}

var irreversibleTools = map[string]struct{}{
	"delete_file":      {},
	"drop_table":       {},
	"git_push_force":   {},
	"deploy":           {},
	"send_email":       {},
	"publish_package":  {},
	"delete_branch":    {},
	"terminate_worker": {},
}

// Classify maps a tool name to its action class. Unknown tools are
// treated as REVERSIBLE.
func Classify(toolName string) ActionClass {
	if _, ok := readOnlyTools[toolName]; ok {
		return ReadOnly
	}
	if _, ok := irreversibleTools[toolName]; ok {
		return Irreversible
	}
	return Reversible
}

// Options adjusts matrix edge cases.
type Options struct {
	// AllowIrreversibleSkip lets a FULL_DELEGATION colony run
	// irreversible actions without confirmation.
	AllowIrreversibleSkip bool
}

// Decide crosses the action class with the trust level.
func Decide(class ActionClass, trust TrustLevel, opts Options) Decision {
	switch class {
	case ReadOnly:
		return Auto
	case Reversible:
		switch {
		case trust >= FullDelegation:
			return Auto
		case trust == AutoNotify:
			return AutoWithNotify
		default:
			return Confirm
		}
	case Irreversible:
		if trust >= FullDelegation && opts.AllowIrreversibleSkip {
			return Auto
		}
		return Confirm
	default:
		return Confirm
	}
}

// DecideTool classifies toolName and applies the matrix in one step.
func DecideTool(toolName string, trust TrustLevel, opts Options) (ActionClass, Decision) {
	class := Classify(toolName)
	return class, Decide(class, trust, opts)
}
