// Package github mirrors core events onto GitHub Issues. The projection
// is one-directional and idempotent: replaying the same events produces
// the same issue state without duplicate API calls.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// IssueClient is the surface the projection needs from GitHub.
type IssueClient interface {
	CreateIssue(ctx context.Context, title, body string) (int, error)
	AddComment(ctx context.Context, number int, body string) error
	AddLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int) error
}

const (
	defaultBaseURL = "https://api.github.com"
	// GitHub's secondary rate limit guidance for writes.
	requestsPerSecond = 1
	requestBurst      = 5
	requestTimeout    = 30 * time.Second
)

// RESTClient talks to the GitHub REST v3 API, write requests throttled
// through a token bucket.
type RESTClient struct {
	owner      string
	repo       string
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// RESTOption customizes the client.
type RESTOption func(*RESTClient)

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) RESTOption {
	return func(c *RESTClient) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) RESTOption {
	return func(c *RESTClient) { c.httpClient = h }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) RESTOption {
	return func(c *RESTClient) { c.logger = l }
}

// NewRESTClient creates a client for one repository.
func NewRESTClient(owner, repo, token string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		owner:      owner,
		repo:       repo,
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:     slog.Default().With("component", "github"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github: api status %d: %s", e.status, e.body)
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("github: rate wait: %w", err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("github: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("github: decode response: %w", err)
		}
	}
	return nil
}

func (c *RESTClient) issuesPath() string {
	return fmt.Sprintf("/repos/%s/%s/issues", c.owner, c.repo)
}

// CreateIssue opens an issue and returns its number.
func (c *RESTClient) CreateIssue(ctx context.Context, title, body string) (int, error) {
	var created struct {
		Number int `json:"number"`
	}
	err := c.do(ctx, http.MethodPost, c.issuesPath(), map[string]string{
		"title": title,
		"body":  body,
	}, &created)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("issue created", "number", created.Number, "title", title)
	return created.Number, nil
}

// AddComment appends a comment to an issue.
func (c *RESTClient) AddComment(ctx context.Context, number int, body string) error {
	path := fmt.Sprintf("%s/%d/comments", c.issuesPath(), number)
	return c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

// AddLabel applies a label to an issue, creating it repo-side if needed.
func (c *RESTClient) AddLabel(ctx context.Context, number int, label string) error {
	path := fmt.Sprintf("%s/%d/labels", c.issuesPath(), number)
	return c.do(ctx, http.MethodPost, path, map[string][]string{"labels": {label}}, nil)
}

// CloseIssue closes an issue.
func (c *RESTClient) CloseIssue(ctx context.Context, number int) error {
	path := fmt.Sprintf("%s/%d", c.issuesPath(), number)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"state": "closed"}, nil)
}
