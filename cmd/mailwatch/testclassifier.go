package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailwatch/internal/classifier"
	"mailwatch/pkg/logger"
)

var testClassifierCmd = &cobra.Command{
	Use:   "test-classifier",
	Short: "Check the classifier API key and reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if classifier.IsPlaceholderKey(cfg.Classifier.APIKey) {
			return fmt.Errorf("classifier.api_key is not configured")
		}
		log := logger.NewLogger(cfg.Log.Level)
		defer log.Sync()

		provider := classifier.NewGeminiProvider(cfg.Classifier.APIKey, cfg.Classifier.Model, cfg.Classifier.BaseURL, cfg.Classifier.Timeout)
		client := classifier.NewClient(provider, 1, log)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("classifier check failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", provider.Name())
		return nil
	},
}
