// Package honeycomb is organizational memory: completed runs condense
// into episodes stored per colony, KPIs aggregate over episode sets, and
// the scout recommends execution templates from similar past work.
package honeycomb

import (
	"fmt"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/canonicalize"
)

// Outcome classifies how an episode ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// FailureClass buckets what went wrong, for recurrence tracking.
type FailureClass string

const (
	FailureSpecification  FailureClass = "specification_error"
	FailureDesign         FailureClass = "design_error"
	FailureImplementation FailureClass = "implementation_error"
	FailureIntegration    FailureClass = "integration_error"
	FailureEnvironment    FailureClass = "environment_error"
	FailureTimeout        FailureClass = "timeout"
)

// KPIScores aggregates quality metrics over an episode set. Repeatability
// is nil when fewer than two templates contribute.
type KPIScores struct {
	Correctness     float64  `json:"correctness"`
	Repeatability   *float64 `json:"repeatability,omitempty"`
	LeadTimeSeconds float64  `json:"lead_time_seconds"`
	IncidentRate    float64  `json:"incident_rate"`
	RecurrenceRate  float64  `json:"recurrence_rate"`
}

// Episode is one condensed run.
type Episode struct {
	EpisodeID        string             `json:"episode_id"`
	RunID            string             `json:"run_id"`
	ColonyID         string             `json:"colony_id"`
	TemplateUsed     string             `json:"template_used"`
	TaskFeatures     map[string]float64 `json:"task_features,omitempty"`
	Outcome          Outcome            `json:"outcome"`
	DurationSeconds  float64            `json:"duration_seconds"`
	TokenCount       int                `json:"token_count"`
	FailureClass     FailureClass       `json:"failure_class,omitempty"`
	KPIScores        *KPIScores         `json:"kpi_scores,omitempty"`
	ParentEpisodeIDs []string           `json:"parent_episode_ids,omitempty"`
	Goal             string             `json:"goal"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
	RecordedAt       time.Time          `json:"recorded_at"`
}

// Validate enforces the episode shape.
func (e Episode) Validate() error {
	if e.EpisodeID == "" {
		return fmt.Errorf("honeycomb: episode id is required")
	}
	if e.ColonyID == "" {
		return fmt.Errorf("honeycomb: colony id is required")
	}
	switch e.Outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
	default:
		return fmt.Errorf("honeycomb: unknown outcome %q", e.Outcome)
	}
	if e.DurationSeconds < 0 {
		return fmt.Errorf("honeycomb: negative duration %f", e.DurationSeconds)
	}
	if e.TokenCount < 0 {
		return fmt.Errorf("honeycomb: negative token count %d", e.TokenCount)
	}
	return nil
}

// Marshal renders the episode as sorted-key canonical JSON, matching the
// event store's on-disk discipline.
func (e Episode) Marshal() ([]byte, error) {
	raw, err := canonicalize.JCS(e)
	if err != nil {
		return nil, fmt.Errorf("honeycomb: marshal episode %s: %w", e.EpisodeID, err)
	}
	return raw, nil
}
