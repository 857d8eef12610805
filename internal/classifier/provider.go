package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider turns a prompt into model output text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
	// RetryDelay is the raw retry hint from the error details, e.g. "13s".
	RetryDelay string
}

func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider returned %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// ClassificationError is returned by Analyze when the provider could not
// produce an answer.
type ClassificationError struct {
	Attempts int
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err means the provider throttled the call.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}
