// Package processor turns a raw RFC 5322 message into a classified, persisted
// ProcessedEmail and escalates important ones by SMS.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailwatch/contracts/db"
	"mailwatch/internal/classifier"
	"mailwatch/internal/sms"
	"mailwatch/pkg/logger"
	"mailwatch/pkg/metrics"
	"mailwatch/pkg/util"
)

const (
	unknownSender    = "unknown sender"
	unknownRecipient = "unknown recipient"
	noSubject        = "(no subject)"

	alertScope = "sms_alert"
)

var automatedSenders = []string{"noreply", "no-reply", "donotreply", "automated"}

type Classifier interface {
	Analyze(ctx context.Context, subject, body, sender string) (classifier.Result, error)
}

type AlertSender interface {
	SendAlert(ctx context.Context, userID, sender, subject, summary string) sms.Result
}

// Store persists a processed email. inserted is false when the row already
// existed and was updated in place.
type Store interface {
	SaveProcessed(ctx context.Context, email *db.ProcessedEmail) (inserted bool, err error)
}

// Deduper lets at most one alert through per (user, message).
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, userID, messageID string) bool
	Release(ctx context.Context, scope, userID, messageID string)
}

type Processor struct {
	classifier Classifier
	alerts     AlertSender
	store      Store
	dedup      Deduper
	logger     *zap.Logger
	now        func() time.Time
}

// New wires a processor. store and dedup may be nil.
func New(c Classifier, alerts AlertSender, store Store, dedup Deduper, logger *zap.Logger) *Processor {
	return &Processor{
		classifier: c,
		alerts:     alerts,
		store:      store,
		dedup:      dedup,
		logger:     logger,
		now:        time.Now,
	}
}

// ShouldProcess rejects automated senders and near-empty subjects so callers
// can skip the classifier call.
func (p *Processor) ShouldProcess(sender, subject string) bool {
	s := strings.ToLower(sender)
	for _, marker := range automatedSenders {
		if strings.Contains(s, marker) {
			return false
		}
	}
	return len([]rune(strings.TrimSpace(subject))) >= 3
}

// Process parses, classifies, alerts and persists one message. Only a
// *ParseError is returned; downstream failures are logged and folded into
// the result.
func (p *Processor) Process(ctx context.Context, raw []byte, messageID, userID string) (*db.ProcessedEmail, error) {
	log := logger.WithUser(logger.WithTrace(ctx, p.logger), userID).With(zap.String("message_id", messageID))

	msg, err := parseMessage(raw)
	if err != nil {
		metrics.IncrementEmailProcessed("parse_error")
		return nil, &ParseError{MessageID: messageID, Err: err}
	}

	email := &db.ProcessedEmail{
		UserID:    userID,
		MessageID: messageID,
		From:      orDefault(msg.From, unknownSender),
		To:        orDefault(msg.To, unknownRecipient),
		Subject:   orDefault(msg.Subject, noSubject),
		Date:      msg.Date,
		Content:   msg.content(),
	}
	if email.Date.IsZero() {
		email.Date = p.now()
	}

	result, err := p.classifier.Analyze(ctx, email.Subject, email.Content, email.From)
	if err != nil {
		log.Warn("Classification failed, using fallback", zap.Error(err))
		result = classifier.FallbackResult()
	}
	email.Analysis = db.Analysis{
		Importance: string(result.Importance),
		Summary:    result.Summary,
		Confidence: result.Confidence,
		Keywords:   result.Keywords,
	}

	if result.Importance == classifier.ImportanceHigh {
		email.SMSSent = p.alert(ctx, log, email)
	}
	email.ProcessedAt = p.now()

	status := "processed"
	if p.store != nil {
		inserted, err := p.store.SaveProcessed(ctx, email)
		switch {
		case err != nil:
			status = "persist_error"
			retryable, kind := util.IsRetryableError(err)
			log.Error("Failed to persist processed email",
				zap.Bool("retryable", retryable),
				zap.String("error_type", kind),
				zap.Error(err),
			)
		case !inserted:
			status = "updated"
		}
	}
	metrics.IncrementEmailProcessed(status)

	log.Info("Email processed", zap.String("summary", p.Summary(email)))
	return email, nil
}

// alert sends the SMS at most once per message. A failed send releases the
// dedup key so a later pass can retry.
func (p *Processor) alert(ctx context.Context, log *zap.Logger, email *db.ProcessedEmail) bool {
	if p.alerts == nil {
		return false
	}
	if p.dedup != nil && !p.dedup.AcquireOnce(ctx, alertScope, email.UserID, email.MessageID) {
		log.Info("Alert already sent for this message")
		return true
	}

	res := p.alerts.SendAlert(ctx, email.UserID, email.From, email.Subject, email.Analysis.Summary)
	if !res.Success {
		if p.dedup != nil {
			p.dedup.Release(ctx, alertScope, email.UserID, email.MessageID)
		}
		log.Warn("SMS alert failed", zap.String("kind", string(res.Kind)), zap.String("error", res.Error))
		return false
	}
	return true
}

// Summary renders a one-line description suitable for logs. The sender is
// masked.
func (p *Processor) Summary(email *db.ProcessedEmail) string {
	return fmt.Sprintf("[%s %d%%] %s from %s sms=%t",
		strings.ToUpper(email.Analysis.Importance),
		email.Analysis.Confidence,
		util.Truncate(email.Subject, 60),
		logger.MaskAddress(senderAddress(email.From)),
		email.SMSSent,
	)
}

func senderAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 && strings.HasSuffix(from, ">") {
		return from[i+1 : len(from)-1]
	}
	return from
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

var _ Deduper = (*util.Deduper)(nil)
