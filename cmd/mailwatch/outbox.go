package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatch/pkg/db"
	"mailwatch/pkg/logger"
	"mailwatch/pkg/mq"
	"mailwatch/pkg/outbox"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and replay outbox events",
}

var replayLimit int

var outboxReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish events that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.MQ.URL == "" {
			return fmt.Errorf("mq.url is not configured")
		}
		log := logger.NewLogger(cfg.Log.Level)
		defer log.Sync()

		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return err
		}
		defer publisher.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		n, err := outbox.NewReplayer(outbox.NewRepository(pool), publisher, log).ReplayFailed(ctx, replayLimit)
		if err != nil {
			return err
		}
		log.Info("Outbox replay finished", zap.Int("replayed", n))
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
		return nil
	},
}

var outboxPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the number of events waiting for the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.NewLogger(cfg.Log.Level)
		defer log.Sync()

		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := outbox.NewRepository(pool).PendingCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	outboxReplayCmd.Flags().IntVar(&replayLimit, "limit", 100, "maximum events to replay")
	outboxCmd.AddCommand(outboxReplayCmd, outboxPendingCmd)
}
