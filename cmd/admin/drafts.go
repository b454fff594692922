package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cvforge/internal/catalog"
	"cvforge/internal/draft"
	"cvforge/internal/repository"
)

func newDraftsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "drafts", Short: "Draft housekeeping"}

	var retention time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete drafts expired for longer than the retention",
		RunE: withEnv(open, func(cmd *cobra.Command, _ []string, e *env) error {
			svc := draft.NewService(repository.NewDraftRepository(e.db), nil, catalog.Default(), e.logger, draft.Options{})
			n, err := svc.PurgeExpired(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "purged %d drafts\n", n)
			return nil
		}),
	}
	purge.Flags().DurationVar(&retention, "retention", 24*time.Hour, "how long expired drafts are kept")

	audit := &cobra.Command{
		Use:   "audit DRAFT_ID",
		Short: "Count the CVs created from a draft",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(open, func(cmd *cobra.Command, args []string, e *env) error {
			n, err := repository.NewCVRepository(e.db).CountBySourceDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "draft %s: %d cv(s)\n", args[0], n)
			if n > 1 {
				return fmt.Errorf("draft %s converted more than once", args[0])
			}
			return nil
		}),
	}

	cmd.AddCommand(purge, audit)
	return cmd
}
