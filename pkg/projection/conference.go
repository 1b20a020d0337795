package projection

import (
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// ConferenceState is the lifecycle state of a conference view.
type ConferenceState string

const (
	ConferenceActive ConferenceState = "active"
	ConferenceEnded  ConferenceState = "ended"
)

// Conference is the materialized view of an agent conference.
type Conference struct {
	ConferenceID  string          `json:"conference_id"`
	HiveID        string          `json:"hive_id,omitempty"`
	Topic         string          `json:"topic,omitempty"`
	Participants  []string        `json:"participants"`
	State         ConferenceState `json:"state"`
	StartedAt     time.Time       `json:"started_at,omitzero"`
	EndedAt       time.Time       `json:"ended_at,omitzero"`
	Duration      time.Duration   `json:"duration"`
	DecisionsMade int             `json:"decisions_made"`
	Summary       string          `json:"summary,omitempty"`
}

// ConferenceProjector maintains a Conference view.
type ConferenceProjector struct {
	view     Conference
	handlers map[event.Type]func(*Conference, *event.Event)
}

// NewConferenceProjector creates a projector for the given conference id.
func NewConferenceProjector(conferenceID string) *ConferenceProjector {
	p := &ConferenceProjector{
		view: Conference{
			ConferenceID: conferenceID,
			State:        ConferenceActive,
			Participants: []string{},
		},
	}
	p.handlers = map[event.Type]func(*Conference, *event.Event){
		event.TypeConferenceStarted: applyConferenceStarted,
		event.TypeConferenceEnded:   applyConferenceEnded,
		event.TypeDecisionRecorded:  applyDecisionRecorded,
	}
	return p
}

func (p *ConferenceProjector) Apply(e *event.Event) {
	if h, ok := p.handlers[e.Type]; ok {
		h(&p.view, e)
	}
}

// View returns a value snapshot of the conference.
func (p *ConferenceProjector) View() Conference {
	snapshot := p.view
	snapshot.Participants = append([]string(nil), p.view.Participants...)
	return snapshot
}

// BuildConference folds an event list into a Conference view.
func BuildConference(events []*event.Event, conferenceID string) Conference {
	p := NewConferenceProjector(conferenceID)
	for _, e := range events {
		p.Apply(e)
	}
	return p.View()
}

func applyConferenceStarted(v *Conference, e *event.Event) {
	v.State = ConferenceActive
	v.StartedAt = e.Timestamp
	v.HiveID = e.HiveID
	if topic, ok := e.Payload["topic"].(string); ok {
		v.Topic = topic
	}
	if raw, ok := e.Payload["participants"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				v.Participants = append(v.Participants, s)
			}
		}
	}
}

func applyConferenceEnded(v *Conference, e *event.Event) {
	v.State = ConferenceEnded
	v.EndedAt = e.Timestamp
	if !v.StartedAt.IsZero() {
		v.Duration = v.EndedAt.Sub(v.StartedAt)
	}
	if summary, ok := e.Payload["summary"].(string); ok {
		v.Summary = summary
	}
}

func applyDecisionRecorded(v *Conference, _ *event.Event) {
	v.DecisionsMade++
}
