package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// APIError is a non-2xx response from the OpenRouter API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// SchemaError is a structurally invalid LLM response. Never retried: the
// model already produced its answer and re-sending the same prompt is as
// likely to return the same malformed shape.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid response schema: %s", e.Reason)
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, rate limits and 5xx responses. Schema violations and cancelled
// contexts are not.
func IsTransient(err error) bool {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn up to maxAttempts times with exponential backoff,
// retrying only transient failures.
func withRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
