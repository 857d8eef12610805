package listener

import "time"

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay is min(1s * 2^failures, 30s).
func ReconnectDelay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= 5 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << failures
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}
