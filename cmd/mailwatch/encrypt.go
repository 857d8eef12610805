package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatch/internal/vault"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt a secret with the configured vault passphrase",
	Long:  "Prints the vault blob for a secret. Reads the secret from stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		v, err := vault.New(cfg.Vault.Passphrase, zap.NewNop())
		if err != nil {
			return err
		}

		plaintext := ""
		if len(args) == 1 {
			plaintext = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			plaintext = strings.TrimRight(line, "\r\n")
		}

		blob, err := v.Encrypt(plaintext)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), blob)
		return nil
	},
}
