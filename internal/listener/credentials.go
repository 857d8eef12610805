package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailwatch/contracts/db"
	"mailwatch/pkg/config"
)

const defaultIMAPPort = 993

type SettingsStore interface {
	Get(ctx context.Context, userID string) (*db.UserSettings, error)
}

type Decrypter interface {
	Decrypt(blob string) (string, error)
}

// CredentialSource resolves the mailbox a listener should open.
type CredentialSource interface {
	Resolve(ctx context.Context, userID string) (Credentials, error)
}

// CredentialResolver reads per-user settings and decrypts the stored
// password. An empty user id selects the global mailbox from config.
type CredentialResolver struct {
	settings SettingsStore
	vault    Decrypter
	fallback config.IMAPConfig
}

func NewCredentialResolver(settings SettingsStore, vault Decrypter, fallback config.IMAPConfig) *CredentialResolver {
	return &CredentialResolver{settings: settings, vault: vault, fallback: fallback}
}

func (r *CredentialResolver) Resolve(ctx context.Context, userID string) (Credentials, error) {
	if userID == "" {
		creds := Credentials{
			Host:               r.fallback.Host,
			Port:               r.fallback.Port,
			User:               r.fallback.User,
			Password:           r.fallback.Password,
			InsecureSkipVerify: r.fallback.InsecureSkipVerify,
		}
		return validate(userID, creds)
	}

	if r.settings == nil {
		return Credentials{}, &ConfigError{UserID: userID, Reason: "no settings store"}
	}
	s, err := r.settings.Get(ctx, userID)
	if errors.Is(err, db.ErrSettingsNotFound) {
		return Credentials{}, &ConfigError{UserID: userID, Reason: "no mailbox settings", Err: err}
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load mailbox settings: %w", err)
	}

	password := s.IMAPPasswordEncrypted
	if r.vault != nil && password != "" {
		password, err = r.vault.Decrypt(s.IMAPPasswordEncrypted)
		if err != nil {
			return Credentials{}, &ConfigError{UserID: userID, Reason: "stored password cannot be decrypted", Err: err}
		}
	}

	return validate(userID, Credentials{
		Host:     s.IMAPHost,
		Port:     s.IMAPPort,
		User:     s.IMAPUser,
		Password: password,
	})
}

func validate(userID string, c Credentials) (Credentials, error) {
	c.Host = strings.TrimSpace(c.Host)
	c.User = strings.TrimSpace(c.User)
	if c.Port <= 0 {
		c.Port = defaultIMAPPort
	}
	switch {
	case isPlaceholder(c.Host):
		return Credentials{}, &ConfigError{UserID: userID, Reason: "imap host missing"}
	case isPlaceholder(c.User):
		return Credentials{}, &ConfigError{UserID: userID, Reason: "imap user missing"}
	case isPlaceholder(c.Password):
		return Credentials{}, &ConfigError{UserID: userID, Reason: "imap password missing"}
	}
	return c, nil
}

// isPlaceholder catches empty values and the samples shipped in example
// configs.
func isPlaceholder(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" || strings.HasPrefix(s, "${") {
		return true
	}
	return strings.HasPrefix(s, "your_") || strings.HasPrefix(s, "your-") || s == "changeme"
}
