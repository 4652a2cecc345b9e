package main

import (
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/fundsgate/internal/idempotency"
)

func sweepCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired idempotency records once, outside the job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if batch <= 0 {
				batch = cfg.SweepBatchSize
			}
			coord := idempotency.NewCoordinator(db, idempotency.Options{TTL: cfg.IdempotencyTTL()}, logger)
			n, err := coord.Sweep(ctx, batch)
			if err != nil {
				return err
			}
			logger.Info("idempotency sweep finished", "deleted", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "rows deleted per statement (default SWEEP_BATCH_SIZE)")
	return cmd
}
