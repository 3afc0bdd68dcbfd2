package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiko-hq/kiko/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		keyPath string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := auth.LoadSigner(keyPath, ttl)
			if err != nil {
				return err
			}
			token, expires, err := signer.Issue(subject)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "Ed25519 private key PEM (PKCS8)")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the calling service")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
