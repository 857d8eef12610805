package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailwatch/contracts/db"
	mqcontracts "mailwatch/contracts/mq"
	"mailwatch/pkg/metrics"
	"mailwatch/pkg/outbox"
	"mailwatch/pkg/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type ProcessedEmailRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
}

// NewProcessedEmailRepository builds the repository. outboxRepo may be nil,
// in which case no events are recorded.
func NewProcessedEmailRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *ProcessedEmailRepository {
	return &ProcessedEmailRepository{db: db, outboxRepo: outboxRepo}
}

// SaveProcessed upserts email on (user_id, message_id). Daily stats and
// outbox events are written in the same transaction, only when the row is
// new.
func (r *ProcessedEmailRepository) SaveProcessed(ctx context.Context, email *db.ProcessedEmail) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "processed_emails", time.Since(start)) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	keywords := email.Analysis.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	query := `
        INSERT INTO processed_emails (user_id, message_id, sender, recipient, subject, sent_at, content,
                                      importance, summary, confidence, keywords, sms_sent, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (user_id, message_id) DO UPDATE SET
            sender = EXCLUDED.sender,
            recipient = EXCLUDED.recipient,
            subject = EXCLUDED.subject,
            sent_at = EXCLUDED.sent_at,
            content = EXCLUDED.content,
            importance = EXCLUDED.importance,
            summary = EXCLUDED.summary,
            confidence = EXCLUDED.confidence,
            keywords = EXCLUDED.keywords,
            sms_sent = processed_emails.sms_sent OR EXCLUDED.sms_sent,
            processed_at = EXCLUDED.processed_at
        RETURNING id, (xmax = 0) AS inserted
    `
	var inserted bool
	err = tx.QueryRow(ctx, query,
		email.UserID,
		email.MessageID,
		email.From,
		email.To,
		email.Subject,
		email.Date,
		email.Content,
		email.Analysis.Importance,
		email.Analysis.Summary,
		email.Analysis.Confidence,
		keywords,
		email.SMSSent,
		email.ProcessedAt,
	).Scan(&email.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert processed email: %w", err)
	}

	if inserted {
		if err := incrementDailyStats(ctx, tx, email); err != nil {
			return false, err
		}
		if err := r.recordEvents(ctx, tx, email); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit processed email: %w", err)
	}
	return inserted, nil
}

func incrementDailyStats(ctx context.Context, tx pgx.Tx, email *db.ProcessedEmail) error {
	var high, medium, low, sms int
	switch email.Analysis.Importance {
	case db.ImportanceHigh:
		high = 1
	case db.ImportanceLow:
		low = 1
	default:
		medium = 1
	}
	if email.SMSSent {
		sms = 1
	}

	query := `
        INSERT INTO daily_stats (user_id, day, total, high, medium, low, sms_sent)
        VALUES ($1, $2, 1, $3, $4, $5, $6)
        ON CONFLICT (user_id, day) DO UPDATE SET
            total = daily_stats.total + 1,
            high = daily_stats.high + EXCLUDED.high,
            medium = daily_stats.medium + EXCLUDED.medium,
            low = daily_stats.low + EXCLUDED.low,
            sms_sent = daily_stats.sms_sent + EXCLUDED.sms_sent,
            updated_at = NOW()
    `
	if _, err := tx.Exec(ctx, query, email.UserID, statsDay(email.ProcessedAt), high, medium, low, sms); err != nil {
		return fmt.Errorf("failed to increment daily stats: %w", err)
	}
	return nil
}

// statsDay is the UTC calendar day a processed email counts towards.
func statsDay(processedAt time.Time) time.Time {
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	y, m, d := processedAt.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *ProcessedEmailRepository) recordEvents(ctx context.Context, tx pgx.Tx, email *db.ProcessedEmail) error {
	if r.outboxRepo == nil {
		return nil
	}
	traceID := trace.FromContext(ctx)

	processed := mqcontracts.EmailProcessedPayload{
		EmailID:     email.ID,
		UserID:      email.UserID,
		MessageID:   email.MessageID,
		Subject:     email.Subject,
		Importance:  email.Analysis.Importance,
		Confidence:  email.Analysis.Confidence,
		SMSSent:     email.SMSSent,
		ProcessedAt: email.ProcessedAt,
		TraceID:     traceID,
	}
	if err := outbox.EnqueueInTx(ctx, tx, r.outboxRepo, mqcontracts.AggregateProcessedEmail, email.ID, mqcontracts.RoutingEmailProcessed, processed); err != nil {
		return err
	}

	if email.SMSSent {
		alert := mqcontracts.AlertSentPayload{
			EmailID:   email.ID,
			UserID:    email.UserID,
			MessageID: email.MessageID,
			SentAt:    email.ProcessedAt,
			TraceID:   traceID,
		}
		if err := outbox.EnqueueInTx(ctx, tx, r.outboxRepo, mqcontracts.AggregateProcessedEmail, email.ID, mqcontracts.RoutingAlertSent, alert); err != nil {
			return err
		}
	}
	return nil
}

// List returns a user's processed emails, newest first.
func (r *ProcessedEmailRepository) List(ctx context.Context, filter db.EmailFilter) ([]db.ProcessedEmail, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "processed_emails", time.Since(start)) }()

	query, args := buildListQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []db.ProcessedEmail{}
	for rows.Next() {
		var e db.ProcessedEmail
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.MessageID,
			&e.From,
			&e.To,
			&e.Subject,
			&e.Date,
			&e.Content,
			&e.Analysis.Importance,
			&e.Analysis.Summary,
			&e.Analysis.Confidence,
			&e.Analysis.Keywords,
			&e.SMSSent,
			&e.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// buildListQuery renders the filtered listing with positional arguments.
func buildListQuery(filter db.EmailFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{filter.UserID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Importance != "" {
		add("importance = $%d", filter.Importance)
	}
	if filter.From != "" {
		add("sender ILIKE $%d", "%"+filter.From+"%")
	}
	if filter.DateFrom != nil {
		add("sent_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("sent_at <= $%d", *filter.DateTo)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
        SELECT id, user_id, message_id, sender, recipient, subject, sent_at, content,
               importance, summary, confidence, keywords, sms_sent, processed_at
        FROM processed_emails
        WHERE %s
        ORDER BY processed_at DESC
        LIMIT $%d OFFSET $%d
    `, strings.Join(conds, " AND "), len(args)-1, len(args))
	return query, args
}
