package honeycomb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/projection"
)

// Recorder condenses a finished run's event stream into an episode.
type Recorder struct {
	events   *akashic.Store
	episodes *Store
}

// NewRecorder wires a recorder over the two stores.
func NewRecorder(events *akashic.Store, episodes *Store) *Recorder {
	return &Recorder{events: events, episodes: episodes}
}

// RecordRequest carries the run context the stream cannot provide.
type RecordRequest struct {
	RunID            string
	ColonyID         string
	TemplateUsed     string
	TaskFeatures     map[string]float64
	Goal             string
	ParentEpisodeIDs []string
}

// Record replays the run and appends the derived episode.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*Episode, error) {
	events, err := r.events.ReadAll(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("honeycomb: run %s has no events", req.RunID)
	}

	episode := &Episode{
		EpisodeID:        uuid.NewString(),
		RunID:            req.RunID,
		ColonyID:         req.ColonyID,
		TemplateUsed:     req.TemplateUsed,
		TaskFeatures:     req.TaskFeatures,
		Outcome:          deriveOutcome(events),
		DurationSeconds:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp).Seconds(),
		TokenCount:       sumWorkerTokens(events),
		ParentEpisodeIDs: req.ParentEpisodeIDs,
		Goal:             req.Goal,
		RecordedAt:       events[len(events)-1].Timestamp,
	}
	if episode.Outcome != OutcomeSuccess {
		episode.FailureClass = classifyFailure(events)
	}

	if err := r.episodes.Append(ctx, episode); err != nil {
		return nil, err
	}
	return episode, nil
}

// deriveOutcome maps the run's terminal event to an episode outcome. A
// failed run with at least one completed task counts as partial.
func deriveOutcome(events []*event.Event) Outcome {
	var terminal event.Type
	var completedTasks, failedTasks int
	for _, e := range events {
		switch e.Type {
		case event.TypeRunCompleted, event.TypeRunFailed, event.TypeRunAborted:
			terminal = e.Type
		case event.TypeTaskCompleted:
			completedTasks++
		case event.TypeTaskFailed:
			failedTasks++
		}
	}

	switch terminal {
	case event.TypeRunCompleted:
		return OutcomeSuccess
	case event.TypeRunFailed:
		if completedTasks > 0 && failedTasks > 0 {
			return OutcomePartial
		}
		return OutcomeFailure
	case event.TypeRunAborted:
		return OutcomeFailure
	default:
		return OutcomePartial
	}
}

// classifyFailure substring-matches the last failure reason in the run.
func classifyFailure(events []*event.Event) FailureClass {
	var reason string
	for _, e := range events {
		switch e.Type {
		case event.TypeTaskFailed, event.TypeRunFailed, event.TypeWorkerFailed, event.TypeColonyFailed:
			if r, ok := e.Payload["reason"].(string); ok && r != "" {
				reason = r
			} else if r, ok := e.Payload["error"].(string); ok && r != "" {
				reason = r
			}
		}
	}

	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return FailureTimeout
	case strings.Contains(lower, "spec"), strings.Contains(lower, "requirement"):
		return FailureSpecification
	case strings.Contains(lower, "design"), strings.Contains(lower, "architect"):
		return FailureDesign
	case strings.Contains(lower, "integrat"), strings.Contains(lower, "interface"):
		return FailureIntegration
	case strings.Contains(lower, "environment"), strings.Contains(lower, "dependency"), strings.Contains(lower, "network"):
		return FailureEnvironment
	default:
		return FailureImplementation
	}
}

func sumWorkerTokens(events []*event.Event) int {
	var total float64
	for _, e := range events {
		switch e.Type {
		case event.TypeWorkerStarted, event.TypeWorkerProgress, event.TypeWorkerCompleted,
			event.TypeWorkerFailed, event.TypeLLMResponse:
			if tokens, ok := projection.Numeric(e.Payload["tokens_used"]); ok {
				total += tokens
			}
		}
	}
	return int(total)
}
