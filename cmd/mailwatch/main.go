package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailwatch/internal/config"
	pkgconfig "mailwatch/pkg/config"
)

var (
	configDir string
	configEnv string
)

var rootCmd = &cobra.Command{
	Use:           "mailwatch",
	Short:         "Mailbox monitoring with AI triage and SMS alerts",
	Long:          "Watches IMAP mailboxes per user, classifies new mail and sends SMS alerts for important messages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml and the env overlays")
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", pkgconfig.GetConfigEnv(), "config overlay to apply (CONFIG_ENV)")

	rootCmd.AddCommand(serveCmd, encryptCmd, settingsCmd, testConnCmd, tokenCmd, outboxCmd, testClassifierCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configEnv, configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
