package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwatch/pkg/config"
	"mailwatch/pkg/util"
)

const testInterval = time.Minute

var testCreds = Credentials{Host: "imap.example.com", Port: 993, User: "me@example.com", Password: "secret"}

func newTestListener(mb *fakeMailbox, proc MessageProcessor, clock *fakeClock, maxRetries int) *Listener {
	cfg := config.ListenerConfig{Interval: testInterval, MaxRetries: maxRetries}
	return New("u1", cfg, staticCredentials{creds: testCreds}, proc, zap.NewNop(),
		withDialer(mb.dial),
		withClock(nil, clock.after),
	)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestReconnectDelayIsMonotonicAndCapped(t *testing.T) {
	require.Equal(t, time.Second, ReconnectDelay(0))
	require.Equal(t, 2*time.Second, ReconnectDelay(1))
	require.Equal(t, 4*time.Second, ReconnectDelay(2))
	require.Equal(t, 16*time.Second, ReconnectDelay(4))
	require.Equal(t, 30*time.Second, ReconnectDelay(5))
	require.Equal(t, 30*time.Second, ReconnectDelay(64))

	prev := time.Duration(0)
	for i := 0; i < 100; i++ {
		d := ReconnectDelay(i)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
}

func TestListenerProcessesUnseenAndSkipsFailures(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "client@firm.com", "Contract", "good")
	mb.add(2, "partner@firm.com", "Broken", "bad")
	mb.add(3, "noreply@shop.com", "Receipt", "good")
	proc := &recordingProcessor{}
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, proc, clock, 3)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return mb.isSeen(1) }, "first message flagged seen")

	// two more ticks; the second send returns only once the first has finished
	clock.ticks <- time.Now()
	clock.ticks <- time.Now()

	st := l.Status()
	require.True(t, st.Running)
	require.True(t, st.Connected)
	require.Equal(t, 0, st.RetryCount)

	l.Stop()

	require.Equal(t, []string{"Contract@test"}, proc.ids())
	require.False(t, mb.isSeen(2), "failed message is not flagged")
	require.False(t, mb.isSeen(3), "filtered message is not flagged")
	require.Equal(t, 1, mb.fetchCount(2), "failed message is not fetched again on the same session")
	require.Equal(t, 1, mb.fetchCount(3))
	require.Equal(t, 1, mb.dialCount())

	st = l.Status()
	require.False(t, st.Running)
	require.False(t, st.Connected)
	require.Equal(t, "stopped", st.State)
	require.GreaterOrEqual(t, mb.logouts, 1)
}

func TestListenerStopsAfterMaxConsecutiveFailures(t *testing.T) {
	mb := newFakeMailbox()
	mb.alwaysErr = io.EOF
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	mb.dialErrs = []error{nil, refused, refused, refused}
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, &recordingProcessor{}, clock, 3)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return !l.Status().Running }, "listener gives up")
	l.Stop()

	st := l.Status()
	require.Equal(t, "stopped", st.State)
	require.Equal(t, 3, st.RetryCount)
	require.Contains(t, st.LastError, "giving up after 3 consecutive failures")
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.recorded())
	require.Equal(t, 3, mb.dialCount(), "no reconnect after the ceiling")
}

func TestListenerRecoversAndResetsFailures(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(7, "client@firm.com", "Invoice", "good")
	mb.searchErrs = []error{io.ErrUnexpectedEOF}
	proc := &recordingProcessor{}
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, proc, clock, 3)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return mb.isSeen(7) }, "message handled after reconnect")
	defer l.Stop()

	st := l.Status()
	require.True(t, st.Running)
	require.Equal(t, 0, st.RetryCount)
	require.Empty(t, st.LastError)
	require.Equal(t, 2, mb.dialCount())
	require.Equal(t, []time.Duration{2 * time.Second}, clock.recorded())
}

func TestListenerConnectionErrorAbortsTick(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a@firm.com", "First", "good")
	mb.add(2, "b@firm.com", "Second", "good")
	mb.fetchErrs[1] = []error{io.EOF}
	proc := &recordingProcessor{}
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, proc, clock, 3)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return mb.isSeen(1) && mb.isSeen(2) }, "both handled after reconnect")
	l.Stop()

	require.Equal(t, []string{"First@test", "Second@test"}, proc.ids())
	require.Equal(t, 2, mb.dialCount())
}

func TestAwaitClosesClientWhenServerIsSilent(t *testing.T) {
	mb := newFakeMailbox()
	mb.hangSearches = 1
	client, err := mb.dial(testCreds, time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = await(client, 20*time.Millisecond, func() (*imap.SearchData, error) {
		return client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	})
	require.ErrorIs(t, err, errCommandTimeout)
	require.True(t, util.IsConnectionError(fmt.Errorf("imap search: %w", err)))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, mb.closes)
}

func TestListenerSilentServerTriggersReconnect(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(7, "client@firm.com", "Invoice", "good")
	mb.hangSearches = 1
	proc := &recordingProcessor{}
	clock := newFakeClock(testInterval)
	cfg := config.ListenerConfig{Interval: testInterval, MaxRetries: 3, CommandTimeout: 20 * time.Millisecond}
	l := New("u1", cfg, staticCredentials{creds: testCreds}, proc, zap.NewNop(),
		withDialer(mb.dial),
		withClock(nil, clock.after),
	)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return mb.isSeen(7) }, "message handled on the new session")
	defer l.Stop()

	require.Equal(t, []string{"Invoice@test"}, proc.ids())
	require.Equal(t, 2, mb.dialCount())
	require.Equal(t, []time.Duration{2 * time.Second}, clock.recorded())
}

func TestListenerStopClosesHungSession(t *testing.T) {
	mb := newFakeMailbox()
	mb.hangSearches = -1
	mb.searching = make(chan struct{}, 1)
	clock := newFakeClock(testInterval)
	cfg := config.ListenerConfig{Interval: testInterval, MaxRetries: 3, CommandTimeout: time.Hour}
	l := New("u1", cfg, staticCredentials{creds: testCreds}, &recordingProcessor{}, zap.NewNop(),
		withDialer(mb.dial),
		withClock(nil, clock.after),
		withStopGrace(20*time.Millisecond),
	)

	require.NoError(t, l.Start(context.Background()))
	<-mb.searching
	require.True(t, l.Status().Running)

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a server that never answers")
	}

	st := l.Status()
	require.False(t, st.Running)
	require.False(t, st.Connected)
	require.Equal(t, "stopped", st.State)
	require.Equal(t, 1, mb.dialCount())
}

func TestListenerConfigErrorIsFatal(t *testing.T) {
	mb := newFakeMailbox()
	cfgErr := &ConfigError{UserID: "u1", Reason: "no mailbox settings"}
	l := New("u1", config.ListenerConfig{}, staticCredentials{err: cfgErr}, &recordingProcessor{}, zap.NewNop(), withDialer(mb.dial))

	err := l.Start(context.Background())
	require.True(t, IsConfigError(err))

	st := l.Status()
	require.False(t, st.Running)
	require.Equal(t, "stopped", st.State)
	require.Contains(t, st.LastError, "no mailbox settings")
	require.Zero(t, mb.dialCount())
}

func TestListenerStartIsIdempotentAndRestartable(t *testing.T) {
	mb := newFakeMailbox()
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, &recordingProcessor{}, clock, 3)

	require.Equal(t, "idle", l.Status().State)
	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return l.Status().Connected }, "connected")
	require.Equal(t, 1, mb.dialCount())

	l.Stop()
	l.Stop()
	require.False(t, l.Status().Running)

	require.NoError(t, l.Start(context.Background()))
	eventually(t, func() bool { return l.Status().Connected }, "connected again")
	require.Equal(t, 2, mb.dialCount())
	l.Stop()
}

func TestListenerStopLetsInFlightMessageFinish(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a@firm.com", "First", "good")
	mb.add(2, "b@firm.com", "Second", "good")
	proc := &recordingProcessor{block: make(chan struct{}), entered: make(chan struct{}, 2)}
	clock := newFakeClock(testInterval)
	l := newTestListener(mb, proc, clock, 3)

	require.NoError(t, l.Start(context.Background()))
	<-proc.entered

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a message was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.block)
	<-stopped

	require.Equal(t, []string{"First@test"}, proc.ids())
	require.True(t, mb.isSeen(1))
	require.False(t, mb.isSeen(2))
	require.Equal(t, "stopped", l.Status().State)
}

func TestTestConnectionAndMailboxStatsUseSeparateSession(t *testing.T) {
	mb := newFakeMailbox()
	mb.numMessages, mb.numUnseen = 12, 4
	l := newTestListener(mb, &recordingProcessor{}, newFakeClock(testInterval), 3)

	require.NoError(t, l.TestConnection(context.Background()))
	stats, err := l.MailboxStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, MailboxStats{Mailbox: "INBOX", Messages: 12, Unseen: 4}, stats)

	require.Equal(t, "idle", l.Status().State)
	require.Equal(t, 2, mb.dialCount())
	require.Equal(t, 2, mb.closes)

	mb.dialErrs = []error{errors.New("dial tcp: lookup imap.example.com: no such host")}
	require.ErrorContains(t, l.TestConnection(context.Background()), "imap connect")
}

func TestEnvelopeFields(t *testing.T) {
	buf := &imapclient.FetchMessageBuffer{UID: 42}
	sender, subject, id := envelopeFields(buf)
	require.Empty(t, sender)
	require.Empty(t, subject)
	require.Equal(t, "uid-42", id)

	buf.Envelope = &imap.Envelope{
		Subject:   "Hello",
		MessageID: "abc@firm.com",
		From:      []imap.Address{{Name: "Client", Mailbox: "client", Host: "firm.com"}},
	}
	sender, subject, id = envelopeFields(buf)
	require.Equal(t, "Client <client@firm.com>", sender)
	require.Equal(t, "Hello", subject)
	require.Equal(t, "abc@firm.com", id)
}
