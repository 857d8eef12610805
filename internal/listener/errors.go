package listener

import (
	"errors"
	"fmt"
)

// ConfigError means a listener has no usable mailbox credentials. It is
// reported through Status and never retried automatically.
type ConfigError struct {
	UserID string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	who := e.UserID
	if who == "" {
		who = "global"
	}
	if e.Err != nil {
		return fmt.Sprintf("mailbox configuration for %s: %s: %v", who, e.Reason, e.Err)
	}
	return fmt.Sprintf("mailbox configuration for %s: %s", who, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	errNotConnected = errors.New("imap session not connected")
	errMessageGone  = errors.New("message no longer in mailbox")
)
