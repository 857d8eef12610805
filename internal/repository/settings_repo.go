package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailwatch/contracts/db"
	"mailwatch/pkg/metrics"
)

type SettingsRepository struct {
	db *pgxpool.Pool
}

func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the settings of userID or db.ErrSettingsNotFound.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*db.UserSettings, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "user_settings", time.Since(start)) }()

	query := `
        SELECT user_id, imap_host, imap_port, imap_user, imap_password_encrypted,
               sms_recipient, sms_token_encrypted, created_at, updated_at
        FROM user_settings
        WHERE user_id = $1
    `
	var s db.UserSettings
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.IMAPHost,
		&s.IMAPPort,
		&s.IMAPUser,
		&s.IMAPPasswordEncrypted,
		&s.SMSRecipient,
		&s.SMSTokenEncrypted,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert stores settings. Secrets must already be vault blobs; an empty SMS
// token keeps the stored one.
func (r *SettingsRepository) Upsert(ctx context.Context, s *db.UserSettings) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "user_settings", time.Since(start)) }()

	query := `
        INSERT INTO user_settings (user_id, imap_host, imap_port, imap_user, imap_password_encrypted,
                                   sms_recipient, sms_token_encrypted)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id) DO UPDATE SET
            imap_host = EXCLUDED.imap_host,
            imap_port = EXCLUDED.imap_port,
            imap_user = EXCLUDED.imap_user,
            imap_password_encrypted = EXCLUDED.imap_password_encrypted,
            sms_recipient = EXCLUDED.sms_recipient,
            sms_token_encrypted = COALESCE(NULLIF(EXCLUDED.sms_token_encrypted, ''), user_settings.sms_token_encrypted),
            updated_at = NOW()
        RETURNING created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		s.UserID,
		s.IMAPHost,
		s.IMAPPort,
		s.IMAPUser,
		s.IMAPPasswordEncrypted,
		s.SMSRecipient,
		s.SMSTokenEncrypted,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// ListUserIDs returns every user with stored settings, used to autostart
// listeners.
func (r *SettingsRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
