// Package classifier asks an AI text model how important an email is.
package classifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailwatch/pkg/circuitbreaker"
	"mailwatch/pkg/logger"
	"mailwatch/pkg/metrics"
)

type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

const (
	summaryUnconfigured = "Email received - AI analysis not available"
	summaryParseFailed  = "Email received - analysis not available"
	summaryCallFailed   = "Email received - analysis failed"

	defaultMaxAttempts = 3
)

// Result is the classification of one email.
type Result struct {
	Importance Importance `json:"importance"`
	Summary    string     `json:"summary"`
	Confidence int        `json:"confidence"`
	Keywords   []string   `json:"keywords"`
}

func unconfiguredResult() Result {
	return Result{Importance: ImportanceMedium, Summary: summaryUnconfigured, Keywords: []string{}}
}

func parseFailureResult() Result {
	return Result{Importance: ImportanceMedium, Summary: summaryParseFailed, Keywords: []string{}}
}

// FallbackResult is what callers store when Analyze returned an error.
func FallbackResult() Result {
	return Result{Importance: ImportanceMedium, Summary: summaryCallFailed, Keywords: []string{}}
}

// Client wraps a Provider with retry on rate limits and a circuit breaker.
type Client struct {
	provider    Provider
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient returns a client; a nil provider means the classifier is not
// configured and every call yields the default result.
func NewClient(provider Provider, maxAttempts int, logger *zap.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})
	// throttling is handled by the retry loop and must not open the breaker
	cb.IsFailure = func(err error) bool { return !IsRateLimit(err) }
	return &Client{
		provider:    provider,
		breaker:     cb,
		logger:      logger,
		maxAttempts: maxAttempts,
		sleep:       sleepContext,
	}
}

// Configured reports whether a provider is wired.
func (c *Client) Configured() bool { return c.provider != nil }

// Analyze classifies one email. Rate limits are retried up to the attempt
// budget; other provider errors return a *ClassificationError at once.
func (c *Client) Analyze(ctx context.Context, subject, body, sender string) (Result, error) {
	if c.provider == nil {
		return unconfiguredResult(), nil
	}

	log := logger.WithTrace(ctx, c.logger)
	prompt := BuildPrompt(subject, body, sender)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, err := c.generate(ctx, prompt)
		if err == nil {
			res, perr := parseResponse(text)
			if perr != nil {
				log.Warn("Classifier response could not be parsed", zap.Error(perr))
				return parseFailureResult(), nil
			}
			return res, nil
		}

		lastErr = err
		if !IsRateLimit(err) {
			return Result{}, &ClassificationError{Attempts: attempt, Err: err}
		}
		if attempt == c.maxAttempts {
			break
		}

		delay, source := RetryDelay(err, attempt)
		if hint, _, ok := hintedDelay(err); ok && hint > delay {
			log.Warn("Classifier retry hint clamped",
				zap.Duration("hint", hint),
				zap.Duration("delay", delay),
			)
		}
		metrics.IncrementClassifierRetry(source)
		log.Warn("Classifier rate limited, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("delay_source", source),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Result{}, &ClassificationError{Attempts: attempt, Err: err}
		}
	}

	return Result{}, &ClassificationError{Attempts: c.maxAttempts, Err: lastErr}
}

// Ping sends a tiny prompt to check credentials and reachability.
func (c *Client) Ping(ctx context.Context) error {
	if c.provider == nil {
		return errors.New("classifier not configured")
	}
	_, err := c.generate(ctx, `Reply with the single word "ok".`)
	return err
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.breaker.Execute(func() error {
		start := time.Now()
		out, err := c.provider.Generate(ctx, prompt)
		status := "success"
		switch {
		case err == nil:
		case IsRateLimit(err):
			status = "rate_limited"
		default:
			status = "error"
		}
		metrics.RecordClassifierCallLatency(c.provider.Name(), status, time.Since(start))
		text = out
		return err
	})
	return text, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsPlaceholderKey reports whether an API key is missing or one of the
// sample values shipped in example configs.
func IsPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "", "your_api_key", "your-api-key", "your_gemini_api_key", "changeme", "sua_chave_api":
		return true
	}
	return strings.HasPrefix(k, "${")
}
