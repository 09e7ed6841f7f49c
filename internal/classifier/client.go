package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	defaultCallTimeout = 45 * time.Second
	defaultMaxRetries  = 3
	retryBaseDelay     = time.Second
)

// Client wraps the OpenRouter chat-completions API with the four structured
// classification operations the pipeline needs. Every call carries its own
// timeout and transparently retries transient failures with exponential
// backoff; schema violations are surfaced immediately.
type Client struct {
	apiKey      string
	apiURL      string
	httpClient  *http.Client
	model       *string // if nil, uses OpenRouter account default
	callTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

type Option func(*Client)

// WithModel pins a specific model instead of the account default.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = &model
		}
	}
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithMaxRetries overrides the retry budget for transient errors.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		apiURL:      OpenRouterAPIURL,
		callTimeout: defaultCallTimeout,
		maxRetries:  defaultMaxRetries,
		retryDelay:  retryBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.callTimeout}
	return c
}

// ClassificationResult is the should-track decision plus the transaction
// fields extracted from the notification text.
type ClassificationResult struct {
	ShouldTrack bool     `json:"should_track"`
	Type        string   `json:"type"` // income or expense
	Amount      *float64 `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	Method      string   `json:"method"`
}

// CategorizationResult assigns a category/subcategory with a confidence.
type CategorizationResult struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
}

// TimeResult is the extracted transaction datetime.
type TimeResult struct {
	// OccurredAt is ISO 8601 with a fixed -05:00 offset.
	OccurredAt string `json:"occurred_at"`
}

// TransferCandidate summarizes one trackable transaction for the pairing call.
type TransferCandidate struct {
	ID         string  `json:"id"`
	Amount     float64 `json:"amount"`
	Direction  string  `json:"direction"` // outgoing or incoming
	OccurredAt string  `json:"occurred_at"`
	Body       string  `json:"body"` // raw notification text, the pairing evidence
}

// TransferPair is one detected transfer between the user's own accounts.
type TransferPair struct {
	OutgoingID string `json:"outgoing_id"`
	IncomingID string `json:"incoming_id"`
	Reason     string `json:"reason"`
}

// TransferResult is the outcome of a pairing call.
type TransferResult struct {
	MatchedIDs []string       `json:"matched_ids"`
	Pairs      []TransferPair `json:"pairs"`
}

// Classify decides whether the message describes a trackable transaction and
// extracts its fields.
func (c *Client) Classify(ctx context.Context, subject, body string) (*ClassificationResult, error) {
	var result ClassificationResult
	err := c.call(ctx, classifyPrompt(subject, body), &result)
	if err != nil {
		return nil, err
	}
	if result.ShouldTrack {
		if result.Type != "income" && result.Type != "expense" {
			return nil, &SchemaError{Reason: fmt.Sprintf("type must be income or expense, got %q", result.Type)}
		}
		if result.Amount == nil || *result.Amount <= 0 {
			return nil, &SchemaError{Reason: "trackable transaction missing positive amount"}
		}
	}
	return &result, nil
}

// Categorize assigns a category and subcategory to the transaction.
func (c *Client) Categorize(ctx context.Context, subject, body string) (*CategorizationResult, error) {
	var result CategorizationResult
	err := c.call(ctx, categorizePrompt(subject, body), &result)
	if err != nil {
		return nil, err
	}
	if result.Category == "" {
		return nil, &SchemaError{Reason: "missing category"}
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, &SchemaError{Reason: fmt.Sprintf("confidence out of range: %f", result.Confidence)}
	}
	return &result, nil
}

// ExtractTime extracts the transaction datetime from the notification text.
func (c *Client) ExtractTime(ctx context.Context, subject, body string) (*TimeResult, error) {
	var result TimeResult
	err := c.call(ctx, extractTimePrompt(subject, body), &result)
	if err != nil {
		return nil, err
	}
	if _, perr := time.Parse(time.RFC3339, result.OccurredAt); perr != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("occurred_at is not ISO 8601: %q", result.OccurredAt)}
	}
	return &result, nil
}

// DetectTransfers submits candidate transactions in a single call and returns
// the pairs that represent transfers between the user's own accounts. The
// model is instructed to prefer false negatives over false positives.
func (c *Client) DetectTransfers(ctx context.Context, candidates []TransferCandidate) (*TransferResult, error) {
	if len(candidates) == 0 {
		return &TransferResult{}, nil
	}

	prompt, err := detectTransfersPrompt(candidates)
	if err != nil {
		return nil, err
	}

	var result TransferResult
	if err := c.call(ctx, prompt, &result); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		known[cand.ID] = true
	}
	for _, id := range result.MatchedIDs {
		if !known[id] {
			return nil, &SchemaError{Reason: fmt.Sprintf("matched_ids references unknown transaction %q", id)}
		}
	}
	for _, pair := range result.Pairs {
		if !known[pair.OutgoingID] || !known[pair.IncomingID] {
			return nil, &SchemaError{Reason: "pair references unknown transaction"}
		}
	}
	return &result, nil
}

// call sends one prompt and decodes the strict JSON answer into out,
// retrying transient failures.
func (c *Client) call(ctx context.Context, prompt string, out interface{}) error {
	return withRetry(ctx, c.maxRetries, c.retryDelay, func() error {
		content, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}
		return decodeStrict(cleanJSONResponse(content), out)
	})
}

// complete performs a single chat-completion round trip.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	reqBody := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}
	if c.model != nil {
		reqBody["model"] = *c.model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", &SchemaError{Reason: fmt.Sprintf("malformed API envelope: %v", err)}
	}
	if len(apiResp.Choices) == 0 {
		return "", &SchemaError{Reason: "no choices in response"}
	}

	return apiResp.Choices[0].Message.Content, nil
}

// decodeStrict unmarshals LLM JSON rejecting unknown fields, so a drifting
// response shape fails loudly at the boundary instead of downstream.
func decodeStrict(content string, out interface{}) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &SchemaError{Reason: err.Error()}
	}
	return nil
}

// cleanJSONResponse removes markdown code fences and surrounding prose from
// an LLM response, keeping just the JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let the decoder fail with a
		// proper error
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}
