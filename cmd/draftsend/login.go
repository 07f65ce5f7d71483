package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/spf13/cobra"
)

// signInTimeout bounds how long the user has to finish signing in
const signInTimeout = 15 * time.Minute

func newLoginCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a device code and save the credential",
		Long: `Starts a device-code sign in, prints the code and a QR code for the
verification page, and waits for the sign in to finish. With --out the
credential is saved for later send --credential runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Auth.Flow = auth.FlowDeviceCode

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cred, err := signIn(ctx, cfg, cmd)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "signed in as %s", displayAccount(cred))
			if !cred.Expiry.IsZero() {
				fmt.Fprintf(w, " until %s", cred.Expiry.Local().Format(time.Kitchen))
			}
			fmt.Fprintln(w)

			if out == "" {
				return nil
			}
			return writeCredential(out, cred)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to save the credential to")
	return cmd
}

// signIn runs the configured non-redirect flow, printing device prompts to
// stderr
func signIn(ctx context.Context, cfg *config.Config, cmd *cobra.Command) (*auth.Credential, error) {
	authCfg := auth.Config{
		Provider:     cfg.Auth.Provider,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Tenant:       cfg.Auth.Tenant,
		RedirectURL:  cfg.Auth.RedirectURL,
	}
	creds := auth.AppPassword{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
	authenticator, err := auth.NewAuthenticator(cfg.Auth.Flow, authCfg, creds, cfg.Auth.AccessToken, func(p auth.DevicePrompt) {
		printPrompt(cmd.ErrOrStderr(), p)
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, signInTimeout)
	defer cancel()
	return authenticator.Authenticate(ctx)
}

func writeCredential(path string, cred *auth.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func displayAccount(cred *auth.Credential) string {
	if cred.Account != "" {
		return cred.Account
	}
	return cred.Provider + " account"
}
