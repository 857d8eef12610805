package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatch/internal/listener"
	"mailwatch/internal/repository"
	"mailwatch/internal/vault"
	"mailwatch/pkg/db"
	"mailwatch/pkg/logger"
)

var testConnCmd = &cobra.Command{
	Use:   "test-connection [user-id]",
	Short: "Log in to a mailbox and print its message counts",
	Long:  "Without a user id the global IMAP account from the config is used and no database is needed.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.NewLogger(cfg.Log.Level)
		defer log.Sync()

		userID := ""
		if len(args) == 1 {
			userID = args[0]
		}

		var resolver *listener.CredentialResolver
		if userID == "" {
			resolver = listener.NewCredentialResolver(nil, nil, cfg.IMAP)
		} else {
			v, err := vault.New(cfg.Vault.Passphrase, log)
			if err != nil {
				return err
			}
			pool, err := db.NewConnection(cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			resolver = listener.NewCredentialResolver(repository.NewSettingsRepository(pool), v, cfg.IMAP)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		l := listener.New(userID, cfg.Listener, resolver, nil, log)
		stats, err := l.MailboxStats(ctx)
		if err != nil {
			log.Error("Connection test failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages, %d unseen\n", stats.Mailbox, stats.Messages, stats.Unseen)
		return nil
	},
}
