package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const defaultLabelPrefix = "hiveforge"

// Projection mirrors core events onto issues. Replay-safe: an event id
// that was already synced is never handled twice.
type Projection struct {
	client      IssueClient
	labelPrefix string
	logger      *slog.Logger

	synced     map[string]struct{}
	runIssue   map[string]int
	lastSynced string
}

// ProjectionOption customizes the projection.
type ProjectionOption func(*Projection)

// WithLabelPrefix overrides the label namespace.
func WithLabelPrefix(prefix string) ProjectionOption {
	return func(p *Projection) { p.labelPrefix = prefix }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ProjectionOption {
	return func(p *Projection) { p.logger = l }
}

// NewProjection creates an empty projection over the client.
func NewProjection(client IssueClient, opts ...ProjectionOption) *Projection {
	p := &Projection{
		client:      client,
		labelPrefix: defaultLabelPrefix,
		logger:      slog.Default().With("component", "github"),
		synced:      make(map[string]struct{}),
		runIssue:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State is a snapshot of the projection's sync bookkeeping.
type State struct {
	SyncedEventIDs    []string       `json:"synced_event_ids"`
	RunIssueMap       map[string]int `json:"run_issue_map"`
	LastSyncedEventID string         `json:"last_synced_event_id"`
}

// State copies the bookkeeping out of the projection.
func (p *Projection) State() State {
	s := State{
		RunIssueMap:       make(map[string]int, len(p.runIssue)),
		LastSyncedEventID: p.lastSynced,
	}
	for id := range p.synced {
		s.SyncedEventIDs = append(s.SyncedEventIDs, id)
	}
	for run, issue := range p.runIssue {
		s.RunIssueMap[run] = issue
	}
	return s
}

// IssueFor returns the issue number mapped to a run, zero if none.
func (p *Projection) IssueFor(runID string) int { return p.runIssue[runID] }

// LastSyncedEventID returns the id of the most recently synced event.
func (p *Projection) LastSyncedEventID() string { return p.lastSynced }

// Apply syncs one event. Already-synced ids and unknown types are
// no-ops; events referencing a run whose issue was never created are
// skipped silently.
func (p *Projection) Apply(ctx context.Context, e *event.Event) error {
	if _, done := p.synced[e.ID]; done {
		return nil
	}
	if err := p.handle(ctx, e); err != nil {
		return err
	}
	p.synced[e.ID] = struct{}{}
	p.lastSynced = e.ID
	return nil
}

// BatchApply syncs events in order. Individual failures do not stop the
// batch; the joined errors come back alongside the count of events that
// synced.
func (p *Projection) BatchApply(ctx context.Context, events []*event.Event) (int, error) {
	var applied int
	var errs []error
	for _, e := range events {
		if err := p.Apply(ctx, e); err != nil {
			p.logger.Warn("event sync failed", "event_id", e.ID, "type", string(e.Type), "error", err)
			errs = append(errs, fmt.Errorf("event %s: %w", e.ID, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

func (p *Projection) handle(ctx context.Context, e *event.Event) error {
	switch e.Type {
	case event.TypeRunStarted:
		return p.handleRunStarted(ctx, e)
	case event.TypeRunCompleted:
		return p.handleRunCompleted(ctx, e)
	case event.TypeTaskCompleted:
		return p.commentOnRun(ctx, e, fmt.Sprintf("Task `%s` completed.", e.TaskID))
	case event.TypeGuardPassed:
		return p.commentOnRun(ctx, e, "Guard verdict: **PASS**")
	case event.TypeGuardConditionalPassed:
		return p.commentOnRun(ctx, e, "Guard verdict: **CONDITIONAL PASS**")
	case event.TypeGuardFailed:
		return p.handleGuardFailed(ctx, e)
	case event.TypeSentinelAlertRaised:
		return p.handleSentinelAlert(ctx, e)
	default:
		return nil
	}
}

func (p *Projection) handleRunStarted(ctx context.Context, e *event.Event) error {
	goal, _ := e.Payload["goal"].(string)
	title := fmt.Sprintf("[%s] %s", e.RunID, goal)
	body := fmt.Sprintf("Run `%s`\n\n**Goal**\n\n%s", e.RunID, goal)

	number, err := p.client.CreateIssue(ctx, title, body)
	if err != nil {
		return err
	}
	p.runIssue[e.RunID] = number
	p.logger.Info("run issue created", "run_id", e.RunID, "issue", number)
	return nil
}

func (p *Projection) handleRunCompleted(ctx context.Context, e *event.Event) error {
	number, ok := p.runIssue[e.RunID]
	if !ok {
		return nil
	}
	summary, _ := e.Payload["summary"].(string)
	if summary == "" {
		summary = "Run completed."
	}
	if err := p.client.AddComment(ctx, number, summary); err != nil {
		return err
	}
	return p.client.CloseIssue(ctx, number)
}

func (p *Projection) handleGuardFailed(ctx context.Context, e *event.Event) error {
	number, ok := p.runIssue[e.RunID]
	if !ok {
		return nil
	}
	reason, _ := e.Payload["remand_reason"].(string)
	body := "Guard verdict: **FAIL**"
	if reason != "" {
		body += "\n\n" + reason
	}
	if err := p.client.AddComment(ctx, number, body); err != nil {
		return err
	}
	return p.client.AddLabel(ctx, number, p.labelPrefix+":guard-failed")
}

func (p *Projection) handleSentinelAlert(ctx context.Context, e *event.Event) error {
	number, ok := p.runIssue[e.RunID]
	if !ok {
		return nil
	}
	if err := p.client.AddLabel(ctx, number, p.labelPrefix+":sentinel"); err != nil {
		return err
	}
	message, _ := e.Payload["message"].(string)
	alertType, _ := e.Payload["alert_type"].(string)
	return p.client.AddComment(ctx, number,
		fmt.Sprintf("Sentinel alert `%s`: %s", alertType, message))
}

func (p *Projection) commentOnRun(ctx context.Context, e *event.Event, body string) error {
	number, ok := p.runIssue[e.RunID]
	if !ok {
		return nil
	}
	return p.client.AddComment(ctx, number, body)
}
