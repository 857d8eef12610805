package classifier

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	baseRetryDelay = 6 * time.Second
	maxRetryDelay  = 30 * time.Second
	// hints above this are clamped so one tick cannot stall for minutes
	maxHintDelay = time.Minute
)

var retryHintRe = regexp.MustCompile(`(?i)retry in\s*(\d+(?:\.\d+)?)\s*(ms|[smh])?`)

// delayExtractor pulls a retry delay out of an error, if it has one.
type delayExtractor struct {
	source  string
	extract func(err error) (time.Duration, bool)
}

// delayExtractors are tried in order; the first hit wins.
var delayExtractors = []delayExtractor{
	{source: "retry_info", extract: structuredRetryInfo},
	{source: "text_hint", extract: textualRetryHint},
}

// RetryDelay returns how long to wait before the next attempt and where the
// value came from. attempt is 1-based.
func RetryDelay(err error, attempt int) (time.Duration, string) {
	if d, source, ok := hintedDelay(err); ok {
		return min(d, maxHintDelay), source
	}
	return BackoffDelay(attempt), "backoff"
}

// hintedDelay is the server's own retry hint, unclamped.
func hintedDelay(err error) (time.Duration, string, bool) {
	for _, ex := range delayExtractors {
		if d, ok := ex.extract(err); ok {
			return d, ex.source, true
		}
	}
	return 0, "", false
}

// BackoffDelay is min(6s * 2^(attempt-1), 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseRetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

func structuredRetryInfo(err error) (time.Duration, bool) {
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.RetryDelay == "" {
		return 0, false
	}
	return ParseDelay(pe.RetryDelay)
}

func textualRetryHint(err error) (time.Duration, bool) {
	m := retryHintRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	return ParseDelay(m[1] + m[2])
}

// ParseDelay accepts "13s", "1.5s", "500ms", "2m", "1h", "1d" or a bare
// number of seconds.
func ParseDelay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}

	unit := time.Second
	switch {
	case strings.HasSuffix(s, "ms"):
		unit, s = time.Millisecond, strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		unit, s = time.Minute, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		unit, s = time.Hour, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		unit, s = 24*time.Hour, strings.TrimSuffix(s, "d")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return time.Duration(v * float64(unit)), true
}
