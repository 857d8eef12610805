package db

import (
	"errors"
	"time"
)

// ErrSettingsNotFound is returned when a user has no stored settings.
var ErrSettingsNotFound = errors.New("user settings not found")

// UserSettings holds a tenant's mailbox and SMS credentials. Secrets are kept
// as vault blobs and only decrypted in memory.
type UserSettings struct {
	UserID                string    `json:"user_id"`
	IMAPHost              string    `json:"imap_host"`
	IMAPPort              int       `json:"imap_port"`
	IMAPUser              string    `json:"imap_user"`
	IMAPPasswordEncrypted string    `json:"-"`
	SMSRecipient          string    `json:"sms_recipient"`
	SMSTokenEncrypted     string    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
