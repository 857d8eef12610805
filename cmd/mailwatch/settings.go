package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatch/contracts/db"
	"mailwatch/internal/repository"
	"mailwatch/internal/vault"
	pkgdb "mailwatch/pkg/db"
	"mailwatch/pkg/logger"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage per-user mailbox and SMS settings",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <user-id>",
	Short: "Store a user's IMAP and SMS settings, encrypting the secrets",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsSet,
}

var settingsFlags struct {
	imapHost     string
	imapPort     int
	imapUser     string
	imapPassword string
	smsRecipient string
	smsToken     string
}

func init() {
	f := settingsSetCmd.Flags()
	f.StringVar(&settingsFlags.imapHost, "imap-host", "", "IMAP server host")
	f.IntVar(&settingsFlags.imapPort, "imap-port", 993, "IMAP server port")
	f.StringVar(&settingsFlags.imapUser, "imap-user", "", "IMAP login")
	f.StringVar(&settingsFlags.imapPassword, "imap-password", "", "IMAP password, stored encrypted")
	f.StringVar(&settingsFlags.smsRecipient, "sms-recipient", "", "comma separated alert numbers")
	f.StringVar(&settingsFlags.smsToken, "sms-token", "", "SMS gateway token, stored encrypted")
	_ = settingsSetCmd.MarkFlagRequired("imap-host")
	_ = settingsSetCmd.MarkFlagRequired("imap-user")

	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	v, err := vault.New(cfg.Vault.Passphrase, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pkgdb.NewConnection(cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pkgdb.Migrate(ctx, pool, log); err != nil {
		return err
	}

	s := &db.UserSettings{
		UserID:       args[0],
		IMAPHost:     settingsFlags.imapHost,
		IMAPPort:     settingsFlags.imapPort,
		IMAPUser:     settingsFlags.imapUser,
		SMSRecipient: settingsFlags.smsRecipient,
	}
	if s.IMAPPasswordEncrypted, err = encryptOptional(v, settingsFlags.imapPassword); err != nil {
		return err
	}
	if s.SMSTokenEncrypted, err = encryptOptional(v, settingsFlags.smsToken); err != nil {
		return err
	}

	if err := repository.NewSettingsRepository(pool).Upsert(ctx, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	log.Info("Settings saved", zap.String("user_id", s.UserID), zap.String("imap_user", logger.MaskAddress(s.IMAPUser)))
	return nil
}

func encryptOptional(v *vault.Vault, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	return v.Encrypt(secret)
}
