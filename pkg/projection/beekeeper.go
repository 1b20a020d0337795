package projection

import (
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// BeekeeperSession is a lightweight roll-up of operator-facing activity:
// which runs a session touched and what interventions occurred.
type BeekeeperSession struct {
	SessionID        string    `json:"session_id"`
	ActiveRuns       []string  `json:"active_runs"`
	Interventions    int       `json:"interventions"`
	LastIntervention string    `json:"last_intervention,omitempty"`
	LastActivity     time.Time `json:"last_activity,omitzero"`
}

// BeekeeperProjector maintains a BeekeeperSession view.
type BeekeeperProjector struct {
	view BeekeeperSession
	runs map[string]bool
}

// NewBeekeeperProjector creates a projector for the given session id.
func NewBeekeeperProjector(sessionID string) *BeekeeperProjector {
	return &BeekeeperProjector{
		view: BeekeeperSession{SessionID: sessionID, ActiveRuns: []string{}},
		runs: make(map[string]bool),
	}
}

func (p *BeekeeperProjector) Apply(e *event.Event) {
	switch e.Type {
	case event.TypeRunStarted:
		if e.RunID != "" && !p.runs[e.RunID] {
			p.runs[e.RunID] = true
			p.view.ActiveRuns = append(p.view.ActiveRuns, e.RunID)
		}
	case event.TypeRunCompleted, event.TypeRunFailed, event.TypeRunAborted:
		if p.runs[e.RunID] {
			delete(p.runs, e.RunID)
			p.view.ActiveRuns = removeString(p.view.ActiveRuns, e.RunID)
		}
	case event.TypeInterventionUserDirect,
		event.TypeInterventionQueenEscalation,
		event.TypeInterventionBeekeeperFeedback:
		p.view.Interventions++
		p.view.LastIntervention = string(e.Type)
	}
	p.view.LastActivity = e.Timestamp
}

// View returns a value snapshot of the session.
func (p *BeekeeperProjector) View() BeekeeperSession {
	snapshot := p.view
	snapshot.ActiveRuns = append([]string(nil), p.view.ActiveRuns...)
	return snapshot
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
