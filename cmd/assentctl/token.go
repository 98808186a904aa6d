package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"assent/internal/identity"
	id "assent/pkg/domain"
)

// newTokenCmd mints reviewer tokens locally for development setups where the
// CLI shares the server's signing key. Production deployments use an external
// issuer instead.
func newTokenCmd() *cobra.Command {
	var (
		reviewer string
		roles    []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a reviewer token signed with ASSENT_JWT_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv("ASSENT_JWT_SIGNING_KEY")
			if key == "" {
				return fmt.Errorf("ASSENT_JWT_SIGNING_KEY is not set")
			}
			reviewerID, err := id.ParseReviewerID(reviewer)
			if err != nil {
				return err
			}
			if len(roles) == 0 {
				return fmt.Errorf("at least one --role is required")
			}
			token, err := identity.NewService(key, "assent", "assent").GenerateToken(reviewerID, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id (UUID)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role granted to the token (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}
