package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateCountsRunes(t *testing.T) {
	require.Equal(t, "héllo", Truncate("héllo wörld", 5))
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "", Truncate("abc", 0))
}

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c "))
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", fmt.Errorf("imap search: %w", io.EOF), true},
		{"closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"text", errors.New("write tcp: broken pipe"), true},
		{"protocol", errors.New("imap: NO [NONEXISTENT] mailbox does not exist"), false},
		{"parse", errors.New("message: malformed MIME header line"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsConnectionError(tc.err))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	ok, kind := IsRetryableError(context.Canceled)
	require.False(t, ok)
	require.Equal(t, "context_canceled", kind)

	ok, kind = IsRetryableError(fmt.Errorf("call: %w", context.DeadlineExceeded))
	require.True(t, ok)
	require.Equal(t, "timeout", kind)

	ok, kind = IsRetryableError(errors.New("ERROR: duplicate key value violates unique constraint"))
	require.False(t, ok)
	require.Equal(t, "duplicate_key", kind)

	ok, kind = IsRetryableError(io.EOF)
	require.True(t, ok)
	require.Equal(t, "connection_error", kind)

	ok, kind = IsRetryableError(errors.New("something odd"))
	require.False(t, ok)
	require.Equal(t, "unknown_error", kind)
}
