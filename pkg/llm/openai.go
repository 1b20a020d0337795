package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/ratelimit"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	requestTimeout = 120 * time.Second

	max429Retries = 3
	max5xxRetries = 3
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Every request passes through the shared rate limiter before it leaves
// the process; throttle and server errors retry within bounded budgets.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	backoff    BackoffPolicy
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

// OpenAIOption customizes client construction.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL points the client at a compatible non-OpenAI endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithLimiter installs the shared limiter for this provider:model key.
func WithLimiter(l *ratelimit.Limiter) OpenAIOption {
	return func(c *OpenAIClient) { c.limiter = l }
}

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.logger = l }
}

// NewOpenAIClient creates a client for the given model.
func NewOpenAIClient(apiKey, model string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		backoff:    DefaultBackoffPolicy(),
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type openAIRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []openAITool `json:"tools,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Seed        int64        `json:"seed,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// statusError carries a non-2xx provider status through the retry loop.
type statusError struct {
	code       int
	retryAfter time.Duration
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm: provider status %d: %s", e.code, e.body)
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, tools []ToolDefinition, options *SamplingOptions) (*Response, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("llm: messages must not be empty")
	}

	body, err := c.buildRequest(msgs, tools, options)
	if err != nil {
		return nil, err
	}

	retries429 := 0
	retries5xx := 0
	for {
		resp, err := c.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}

		se, ok := err.(*statusError)
		if !ok {
			return nil, err
		}

		switch {
		case se.code == http.StatusTooManyRequests && retries429 < max429Retries:
			retries429++
			if c.limiter != nil {
				c.limiter.Handle429(se.retryAfter)
			}
			wait := se.retryAfter
			if wait <= 0 {
				wait = ComputeBackoff(BackoffParams{Key: c.model + ":429", AttemptIndex: retries429}, c.backoff)
			}
			c.logger.Warn("llm throttled, retrying",
				"model", c.model, "attempt", retries429, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		case se.code >= 500 && retries5xx < max5xxRetries:
			retries5xx++
			wait := ComputeBackoff(BackoffParams{Key: c.model + ":5xx", AttemptIndex: retries5xx}, c.backoff)
			c.logger.Warn("llm server error, retrying",
				"model", c.model, "status", se.code, "attempt", retries5xx, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		default:
			return nil, se
		}
	}
}

func (c *OpenAIClient) buildRequest(msgs []Message, tools []ToolDefinition, options *SamplingOptions) ([]byte, error) {
	var oaiTools []openAITool
	for _, t := range tools {
		oaiTools = append(oaiTools, openAITool{Type: "function", Function: t})
	}

	reqBody := openAIRequest{
		Model:    c.model,
		Messages: msgs,
		Tools:    oaiTools,
	}
	if options != nil {
		reqBody.Temperature = options.Temperature
		reqBody.TopP = options.TopP
		reqBody.MaxTokens = options.MaxTokens
		reqBody.Seed = options.Seed
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	return body, nil
}

func (c *OpenAIClient) doOnce(ctx context.Context, body []byte) (*Response, error) {
	if c.limiter != nil {
		permit, err := c.limiter.AcquireWithTokens(ctx, estimateTokens(body))
		if err != nil {
			return nil, err
		}
		defer permit.Release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{
			code:       resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			body:       string(raw),
		}
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices in response")
	}
	choice := oaiResp.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		// Providers occasionally emit malformed argument JSON; the call
		// still surfaces with nil arguments.
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: choice.FinishReason,
		Usage:        oaiResp.Usage,
	}, nil
}

// parseRetryAfter handles the delta-seconds form; the HTTP-date form is
// rare from LLM providers and falls back to zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// estimateTokens approximates the request cost for the limiter at four
// bytes per token.
func estimateTokens(body []byte) int {
	n := len(body) / 4
	if n < 1 {
		n = 1
	}
	return n
}
