package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper-darkly/eventstream/auth"
)

func newTokenCommand() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing, using JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET environment variable is required")
			}
			if subject == "" {
				subject = auth.DefaultSubject
			}
			tok, err := auth.IssueToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to \"anonymous\")")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token time-to-live")
	return cmd
}
