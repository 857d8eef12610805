package listener

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"mailwatch/pkg/logger"
	"mailwatch/pkg/metrics"
	"mailwatch/pkg/trace"
	"mailwatch/pkg/util"
)

func (l *Listener) run(ctx context.Context, creds Credentials, done chan struct{}) {
	defer close(done)
	defer l.finish()

	if err := l.connect(creds); err != nil {
		if !l.reconnect(ctx, creds, err) {
			return
		}
	}
	l.logger.Info("Listener started",
		zap.String("mailbox", l.cfg.Mailbox),
		zap.Duration("interval", l.cfg.Interval),
		zap.String("imap_user", logger.MaskAddress(creds.User)),
	)

	for {
		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !l.reconnect(ctx, creds, err) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.after(l.cfg.Interval):
		}
	}
}

// connect replaces the current session with a fresh, selected one.
func (l *Listener) connect(creds Credentials) error {
	l.dropSession()

	client, err := l.dial(creds, l.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	if err := awaitErr(client, l.cfg.CommandTimeout, func() error {
		return client.Login(creds.User, creds.Password).Wait()
	}); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap auth: %w", err)
	}
	if _, err := await(client, l.cfg.CommandTimeout, func() (*imap.SelectData, error) {
		return client.Select(l.cfg.Mailbox, nil).Wait()
	}); err != nil {
		l.logout(client)
		return fmt.Errorf("imap select %s: %w", l.cfg.Mailbox, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		go l.logout(client)
		return nil
	}
	l.session = client
	l.state = StatePolling
	l.failures = 0
	l.lastErr = nil
	// UIDs may be renumbered on a new session
	l.skipped = map[imap.UID]struct{}{}
	return nil
}

// reconnect applies the backoff policy after cause. It returns false when the
// listener must stop, either because it was cancelled or because the retry
// ceiling was reached.
func (l *Listener) reconnect(ctx context.Context, creds Credentials, cause error) bool {
	for {
		l.dropSession()
		failures, stopped := l.recordFailure(cause)
		if stopped {
			return false
		}
		if failures >= l.cfg.MaxRetries {
			metrics.IncrementListenerReconnect("exhausted")
			l.fail(fmt.Errorf("giving up after %d consecutive failures: %w", failures, cause))
			return false
		}

		delay := ReconnectDelay(failures)
		l.logger.Warn("Mailbox connection lost, reconnecting",
			zap.Int("failures", failures),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		select {
		case <-ctx.Done():
			return false
		case <-l.after(delay):
		}

		err := l.connect(creds)
		if err == nil {
			metrics.IncrementListenerReconnect("success")
			l.logger.Info("Mailbox reconnected")
			return ctx.Err() == nil
		}
		metrics.IncrementListenerReconnect("failure")
		cause = err
	}
}

// tick runs one polling pass. Errors returned from here are session-level
// and send the loop into reconnect; per-message problems are logged and the
// message is skipped until the next session.
func (l *Listener) tick(ctx context.Context) error {
	client := l.currentSession()
	if client == nil {
		return errNotConnected
	}

	start := l.now()
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	log := logger.WithTrace(ctx, l.logger)
	l.setState(StateProcessing)
	defer func() {
		l.setState(StatePolling)
		metrics.RecordListenerTick(l.now().Sub(start))
	}()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   l.now().Add(-l.cfg.Lookback),
	}
	data, err := await(client, l.cfg.CommandTimeout, func() (*imap.SearchData, error) {
		return client.UIDSearch(criteria, nil).Wait()
	})
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}

	uids := data.AllUIDs()
	handled := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			return nil
		}
		if _, skip := l.skipped[uid]; skip {
			continue
		}
		if err := l.handleMessage(ctx, log, client, uid); err != nil {
			if util.IsConnectionError(err) {
				return err
			}
			log.Warn("Skipping message", zap.Uint32("uid", uint32(uid)), zap.Error(err))
			l.skipped[uid] = struct{}{}
			continue
		}
		handled++
	}

	if len(uids) > 0 {
		log.Info("Mailbox tick finished", zap.Int("unseen", len(uids)), zap.Int("handled", handled))
	}
	l.resetFailures()
	return nil
}

func (l *Listener) handleMessage(ctx context.Context, log *zap.Logger, client imapClient, uid imap.UID) error {
	set := imap.UIDSetNum(uid)
	opts := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}
	bufs, err := await(client, l.cfg.CommandTimeout, func() ([]*imapclient.FetchMessageBuffer, error) {
		return client.Fetch(set, opts).Collect()
	})
	if err != nil {
		return fmt.Errorf("imap fetch %d: %w", uid, err)
	}
	if len(bufs) == 0 {
		return errMessageGone
	}
	buf := bufs[0]

	sender, subject, messageID := envelopeFields(buf)
	if !l.processor.ShouldProcess(sender, subject) {
		log.Debug("Message filtered out", zap.Uint32("uid", uint32(uid)), zap.String("from", logger.MaskAddress(sender)))
		l.skipped[uid] = struct{}{}
		return nil
	}

	raw := buf.FindBodySection(&imap.FetchItemBodySection{})
	if raw == nil {
		return errMessageGone
	}

	// finish the message even if Stop arrives meanwhile
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ProcessTimeout)
	_, err = l.processor.Process(pctx, raw, messageID, l.userID)
	cancel()
	if err != nil {
		return err
	}

	seen := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := awaitErr(client, l.cfg.CommandTimeout, func() error {
		return client.Store(set, seen, nil).Close()
	}); err != nil {
		return fmt.Errorf("imap store %d: %w", uid, err)
	}
	return nil
}

// envelopeFields falls back to a UID-based id for messages without a
// Message-ID header.
func envelopeFields(buf *imapclient.FetchMessageBuffer) (sender, subject, messageID string) {
	messageID = fmt.Sprintf("uid-%d", buf.UID)
	if buf.Envelope == nil {
		return "", "", messageID
	}
	if buf.Envelope.MessageID != "" {
		messageID = buf.Envelope.MessageID
	}
	subject = buf.Envelope.Subject
	if len(buf.Envelope.From) > 0 {
		from := buf.Envelope.From[0]
		sender = from.Addr()
		if from.Name != "" {
			sender = fmt.Sprintf("%s <%s>", from.Name, sender)
		}
	}
	return sender, subject, messageID
}

func (l *Listener) currentSession() imapClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// setState moves between loop states. Stop has the last word.
func (l *Listener) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return
	}
	l.state = s
}

func (l *Listener) resetFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
}

func (l *Listener) recordFailure(cause error) (failures int, stopped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return l.failures, true
	}
	l.failures++
	l.lastErr = cause
	l.state = StateReconnecting
	return l.failures, false
}

func (l *Listener) fail(err error) {
	l.mu.Lock()
	l.state = StateStopped
	l.lastErr = err
	l.mu.Unlock()
	l.logger.Error("Listener stopped", zap.Error(err))
}

func (l *Listener) dropSession() {
	l.mu.Lock()
	client := l.session
	l.session = nil
	l.mu.Unlock()
	l.logout(client)
}

func (l *Listener) finish() {
	l.dropSession()
	l.mu.Lock()
	l.state = StateStopped
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()
	l.logger.Info("Listener loop exited")
}
