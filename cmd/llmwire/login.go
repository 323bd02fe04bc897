package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/martinemde/llmwire/azureauth"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check the configured Azure credential",
	Long: "Acquire a token with the azure_auth settings from the config file. " +
		"In device_code mode this walks through the interactive device login.",
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func credentialOptions(logger *slog.Logger) []azureauth.Option {
	return []azureauth.Option{azureauth.WithLogger(logger)}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	cred := cfg.Credential(credentialOptions(logger)...)
	if cred == nil {
		return fmt.Errorf("%w: add an azure_auth section to the config file", azureauth.ErrNotConfigured)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	errOut := cmd.ErrOrStderr()
	if cred.Config().Kind == azureauth.ModeDeviceCode {
		_, err = cred.AcquireWithDeviceCode(ctx, func(dc *azureauth.DeviceCode) {
			if dc.Message != "" {
				fmt.Fprintln(errOut, dc.Message)
				return
			}
			fmt.Fprintf(errOut, "Open %s and enter the code %s\n", dc.VerificationURI, dc.UserCode)
		})
	} else {
		_, err = cred.Token(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Authenticated with Azure (%s)\n", cred.Config().Mode)
	return nil
}
