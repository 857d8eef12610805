package listener

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mailwatch/contracts/db"
	"mailwatch/pkg/config"
)

type settingsMap struct {
	rows map[string]*db.UserSettings
	err  error
}

func (s settingsMap) Get(_ context.Context, userID string) (*db.UserSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	if row, ok := s.rows[userID]; ok {
		return row, nil
	}
	return nil, db.ErrSettingsNotFound
}

type prefixVault struct{}

func (prefixVault) Decrypt(blob string) (string, error) {
	if strings.HasPrefix(blob, "v1:") {
		if blob == "v1:corrupt" {
			return blob, errors.New("message authentication failed")
		}
		return strings.TrimPrefix(blob, "v1:"), nil
	}
	return blob, nil
}

func TestResolveGlobalFallback(t *testing.T) {
	r := NewCredentialResolver(nil, nil, config.IMAPConfig{Host: " imap.gmail.com ", User: "me@gmail.com", Password: "app-pass"})

	creds, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, Credentials{Host: "imap.gmail.com", Port: 993, User: "me@gmail.com", Password: "app-pass"}, creds)
}

func TestResolveGlobalPlaceholdersAreConfigErrors(t *testing.T) {
	cases := []config.IMAPConfig{
		{},
		{Host: "imap.gmail.com", User: "your_email@gmail.com", Password: "x"},
		{Host: "imap.gmail.com", User: "me@gmail.com", Password: "${EMAIL_PASS}"},
	}
	for _, c := range cases {
		_, err := NewCredentialResolver(nil, nil, c).Resolve(context.Background(), "")
		require.True(t, IsConfigError(err), "%+v", c)
	}
}

func TestResolveUserSettings(t *testing.T) {
	store := settingsMap{rows: map[string]*db.UserSettings{
		"u1": {UserID: "u1", IMAPHost: "mail.firm.com", IMAPPort: 143, IMAPUser: "ana@firm.com", IMAPPasswordEncrypted: "v1:s3cret"},
		"u2": {UserID: "u2", IMAPHost: "mail.firm.com", IMAPUser: "rui@firm.com", IMAPPasswordEncrypted: "v1:corrupt"},
		"u3": {UserID: "u3", IMAPHost: "mail.firm.com", IMAPUser: "eva@firm.com"},
	}}
	r := NewCredentialResolver(store, prefixVault{}, config.IMAPConfig{Host: "global", User: "g", Password: "g"})

	creds, err := r.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, Credentials{Host: "mail.firm.com", Port: 143, User: "ana@firm.com", Password: "s3cret"}, creds)

	_, err = r.Resolve(context.Background(), "u2")
	require.True(t, IsConfigError(err))
	require.NotContains(t, err.Error(), "corrupt")

	_, err = r.Resolve(context.Background(), "u3")
	require.ErrorContains(t, err, "imap password missing")

	// unknown users never fall back to the global mailbox
	_, err = r.Resolve(context.Background(), "u4")
	require.True(t, IsConfigError(err))
	require.ErrorIs(t, err, db.ErrSettingsNotFound)
}

func TestResolveStoreFailureIsNotConfigError(t *testing.T) {
	r := NewCredentialResolver(settingsMap{err: errors.New("connection refused")}, prefixVault{}, config.IMAPConfig{})

	_, err := r.Resolve(context.Background(), "u1")
	require.Error(t, err)
	require.False(t, IsConfigError(err))
}
