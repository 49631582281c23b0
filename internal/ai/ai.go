// Package ai provides the completion client used by the curator and the
// report excerpt generator.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Client produces one chat completion. Implementations must be safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// Sentinel errors classifying completion failures. The curator retries
// ErrRateLimited with backoff and stops immediately on anything else.
var (
	ErrRateLimited = errors.New("completion rate limited")
	ErrConnection  = errors.New("completion connection failed")
)

// APIError is a non-429 error response from the completion API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api error (status %d): %s", e.StatusCode, e.Message)
}
