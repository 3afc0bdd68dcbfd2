package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kiko-hq/kiko/internal/auth"
)

func newGenkeyCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate the Ed25519 key pair for bearer tokens",
		Long: `Genkey writes jwt_private.pem and jwt_public.pem into --dir. Point
KIKO_JWT_PUBLIC_KEY at the public key and pass the private key to
"kiko token --key". Existing keys are never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			privPath := filepath.Join(dir, "jwt_private.pem")
			pubPath := filepath.Join(dir, "jwt_public.pem")
			if err := auth.GenerateKeyPair(privPath, pubPath); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "wrote %s\n", privPath)
			_, _ = fmt.Fprintf(out, "wrote %s\n", pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "output directory")
	return cmd
}
