package main

import (
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/fundsgate/internal/sweeper"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema and River's job tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			if err := sweeper.Migrate(ctx, db.Db); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
