package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

func seedCmd() *cobra.Command {
	var (
		count   int
		balance string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-insert accounts for local testing and benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if balance == "" {
				balance = cfg.SeedDefaultBalance
			}
			amount, err := domain.ParseAmount("balance", balance)
			if err != nil {
				return err
			}

			existing, err := db.CountAccounts(ctx)
			if err != nil {
				return err
			}
			if existing >= int64(count) {
				logger.Info("database already seeded, skipping", "accounts", existing)
				return nil
			}

			accounts := seedAccounts(int(existing), count-int(existing), amount, time.Now().UTC())
			n, err := db.CopyAccounts(ctx, accounts)
			if err != nil {
				return fmt.Errorf("bulk insert failed: %w", err)
			}
			logger.Info("accounts seeded", "inserted", n, "balance", domain.FormatMoney(amount))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1000, "total number of accounts wanted")
	cmd.Flags().StringVar(&balance, "balance", "", "initial balance per account (default SEED_DEFAULT_ACCOUNT_BALANCE)")
	return cmd
}

// seedBranch holds every seeded account so numbers never collide with
// accounts opened through the API.
const seedBranch = "9000"

// seedAccounts builds n accounts numbered after the offset already present.
// Each gets a distinct valid CPF.
func seedAccounts(offset, n int, balance decimal.Decimal, now time.Time) []domain.Account {
	accounts := make([]domain.Account, 0, n)
	for i := offset; i < offset+n; i++ {
		accounts = append(accounts, domain.Account{
			ID:        uuid.New(),
			OwnerName: fmt.Sprintf("Seed Account %04d", i+1),
			Document:  domain.CompleteCPF(fmt.Sprintf("%09d", 100000000+i)),
			Branch:    seedBranch,
			Number:    fmt.Sprintf("%010d", i+1),
			Status:    domain.AccountActive,
			Balance:   balance,
			Currency:  domain.DefaultCurrency,
			CreatedAt: now,
		})
	}
	return accounts
}
