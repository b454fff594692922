package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cvforge/internal/billing"
	"cvforge/internal/database"
	"cvforge/internal/repository"
)

func newSubscriptionCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "subscription", Short: "Grant or revoke premium access by hand"}

	var (
		userID uint
		until  string
	)

	record := func(status string) func(*cobra.Command, []string, *env) error {
		return func(cmd *cobra.Command, _ []string, e *env) error {
			if userID == 0 {
				return fmt.Errorf("--user-id is required")
			}
			if _, err := repository.NewUserRepository(e.db).GetByID(cmd.Context(), userID); err != nil {
				return err
			}

			sub := database.Subscription{UserID: userID, Status: status}
			if until != "" {
				end, err := time.Parse(time.DateOnly, until)
				if err != nil {
					return fmt.Errorf("--until: %w", err)
				}
				sub.CurrentPeriodEnd = &end
			}

			ents := billing.NewEntitlements(repository.NewSubscriptionRepository(e.db), e.redis, 0, e.logger)
			if err := ents.Record(cmd.Context(), sub); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "user %d subscription set to %s\n", userID, status)
			return nil
		}
	}

	grant := &cobra.Command{
		Use:   "grant",
		Short: "Mark a user as subscribed",
		RunE:  withEnv(open, record("active")),
	}
	grant.Flags().UintVar(&userID, "user-id", 0, "user to grant")
	grant.Flags().StringVar(&until, "until", "", "period end as YYYY-MM-DD (open ended when empty)")

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Cancel a user's subscription",
		RunE:  withEnv(open, record("canceled")),
	}
	revoke.Flags().UintVar(&userID, "user-id", 0, "user to revoke")

	cmd.AddCommand(grant, revoke)
	return cmd
}
