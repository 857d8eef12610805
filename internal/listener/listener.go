// Package listener polls one user's IMAP mailbox and hands every new message
// to a processor.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"mailwatch/contracts/db"
	"mailwatch/pkg/config"
	"mailwatch/pkg/logger"
)

const (
	defaultMailbox        = "INBOX"
	defaultInterval       = 30 * time.Second
	defaultMaxRetries     = 3
	defaultLookback       = 24 * time.Hour
	defaultDialTimeout    = 15 * time.Second
	defaultProcessTimeout = 2 * time.Minute
	defaultCommandTimeout = time.Minute
	defaultStopGrace      = 10 * time.Second
	logoutTimeout         = 5 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePolling
	StateProcessing
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) running() bool {
	return s != StateIdle && s != StateStopped
}

// MessageProcessor classifies and stores one raw message.
type MessageProcessor interface {
	ShouldProcess(sender, subject string) bool
	Process(ctx context.Context, raw []byte, messageID, userID string) (*db.ProcessedEmail, error)
}

// Status is a point-in-time snapshot; reading it never blocks on I/O.
type Status struct {
	UserID     string `json:"user_id"`
	Running    bool   `json:"running"`
	Connected  bool   `json:"connected"`
	RetryCount int    `json:"retry_count"`
	State      string `json:"state"`
	LastError  string `json:"last_error,omitempty"`
}

type MailboxStats struct {
	Mailbox  string `json:"mailbox"`
	Messages uint32 `json:"messages"`
	Unseen   uint32 `json:"unseen"`
}

type Option func(*Listener)

func withDialer(dial func(Credentials, time.Duration) (imapClient, error)) Option {
	return func(l *Listener) { l.dial = dial }
}

func withStopGrace(d time.Duration) Option {
	return func(l *Listener) { l.stopGrace = d }
}

func withClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
		if after != nil {
			l.after = after
		}
	}
}

// Listener is the per-user polling state machine. One goroutine, the run
// loop, owns the IMAP session while the listener runs, so ticks and
// reconnects never overlap.
type Listener struct {
	userID    string
	cfg       config.ListenerConfig
	creds     CredentialSource
	processor MessageProcessor
	logger    *zap.Logger

	dial      func(Credentials, time.Duration) (imapClient, error)
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
	stopGrace time.Duration

	mu       sync.Mutex
	state    State
	session  imapClient
	failures int
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}

	// owned by the run loop
	skipped map[imap.UID]struct{}
}

func New(userID string, cfg config.ListenerConfig, creds CredentialSource, processor MessageProcessor, log *zap.Logger, opts ...Option) *Listener {
	l := &Listener{
		userID:    userID,
		cfg:       withDefaults(cfg),
		creds:     creds,
		processor: processor,
		logger:    logger.WithUser(log, userID).With(zap.String("component", "listener")),
		dial:      dialIMAP,
		now:       time.Now,
		after:     time.After,
		stopGrace: defaultStopGrace,
		state:     StateIdle,
		skipped:   map[imap.UID]struct{}{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func withDefaults(cfg config.ListenerConfig) config.ListenerConfig {
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	return cfg
}

// Start resolves credentials and launches the polling loop. It is a no-op on
// a running listener. A *ConfigError leaves the listener Stopped. Connection
// failures are handled by the loop's reconnect policy and show up in Status.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state.running() {
		l.mu.Unlock()
		return nil
	}
	prev := l.done
	l.mu.Unlock()

	// a loop that stopped on its own may still be closing its session
	if prev != nil {
		<-prev
	}

	l.mu.Lock()
	if l.state.running() {
		l.mu.Unlock()
		return nil
	}
	l.state = StateConnecting
	l.failures = 0
	l.lastErr = nil
	l.done = nil
	l.mu.Unlock()

	creds, err := l.creds.Resolve(ctx, l.userID)
	if err != nil {
		l.mu.Lock()
		l.state = StateStopped
		l.lastErr = err
		l.mu.Unlock()
		l.logger.Error("Listener cannot start", zap.Error(err))
		return err
	}

	l.mu.Lock()
	if l.state != StateConnecting {
		// stopped while resolving
		l.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go l.run(loopCtx, creds, done)
	return nil
}

// Stop cancels the loop, lets an in-flight message finish and logs out. A
// loop still busy after the grace period gets its session closed under it.
// Stop is idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.state = StateStopped
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}

	grace := time.NewTimer(l.stopGrace)
	defer grace.Stop()
	select {
	case <-done:
		return
	case <-grace.C:
	}

	l.logger.Warn("Listener did not stop in time, closing session", zap.Duration("grace", l.stopGrace))
	if client := l.currentSession(); client != nil {
		_ = client.Close()
	}
	<-done
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{
		UserID:     l.userID,
		Running:    l.state.running(),
		Connected:  l.session != nil && (l.state == StatePolling || l.state == StateProcessing),
		RetryCount: l.failures,
		State:      l.state.String(),
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// TestConnection logs in on a separate session and logs out again. It does
// not touch the running loop.
func (l *Listener) TestConnection(ctx context.Context) error {
	client, err := l.openIsolated(ctx)
	if err != nil {
		return err
	}
	l.logout(client)
	return nil
}

// MailboxStats asks the server for message counts on a separate session.
func (l *Listener) MailboxStats(ctx context.Context) (MailboxStats, error) {
	client, err := l.openIsolated(ctx)
	if err != nil {
		return MailboxStats{}, err
	}
	defer l.logout(client)

	opts := &imap.StatusOptions{NumMessages: true, NumUnseen: true}
	data, err := await(client, l.cfg.CommandTimeout, func() (*imap.StatusData, error) {
		return client.Status(l.cfg.Mailbox, opts).Wait()
	})
	if err != nil {
		return MailboxStats{}, fmt.Errorf("imap status %s: %w", l.cfg.Mailbox, err)
	}
	stats := MailboxStats{Mailbox: l.cfg.Mailbox}
	if data.NumMessages != nil {
		stats.Messages = *data.NumMessages
	}
	if data.NumUnseen != nil {
		stats.Unseen = *data.NumUnseen
	}
	return stats, nil
}

func (l *Listener) openIsolated(ctx context.Context) (imapClient, error) {
	creds, err := l.creds.Resolve(ctx, l.userID)
	if err != nil {
		return nil, err
	}
	client, err := l.dial(creds, l.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	if err := awaitErr(client, l.cfg.CommandTimeout, func() error {
		return client.Login(creds.User, creds.Password).Wait()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	return client, nil
}

// logout ends the session gracefully when the server answers in time and
// closes the socket regardless.
func (l *Listener) logout(client imapClient) {
	if client == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- client.Logout().Wait() }()
	select {
	case err := <-done:
		if err != nil {
			l.logger.Debug("IMAP logout failed", zap.Error(err))
		}
	case <-time.After(logoutTimeout):
		l.logger.Debug("IMAP logout timed out")
	}
	if err := client.Close(); err != nil {
		l.logger.Debug("IMAP close failed", zap.Error(err))
	}
}
