package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yoockh/speaktest/config"
	pgrepo "github.com/yoockh/speaktest/internal/repositories/postgres"
	"github.com/yoockh/speaktest/internal/services"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledger-cli",
		Short:         "Operate the speaking test credit ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(migrateCmd(), grantCmd(), balanceCmd(), transactionsCmd())
	return root
}

func creditService() (services.CreditService, error) {
	if err := config.InitPostgres(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return services.NewCreditService(pgrepo.NewCreditRepo(config.PostgresDB)), nil
}

func migrateCmd() *cobra.Command {
	var withMongo bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create ledger tables and, optionally, mongo indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitPostgres(); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := config.MigratePostgres(config.PostgresDB); err != nil {
				return err
			}
			cmd.Println("postgres migrated")

			if !withMongo {
				return nil
			}
			if err := config.InitMongo(); err != nil {
				return fmt.Errorf("mongo: %w", err)
			}
			if err := config.EnsureMongoIndexes(); err != nil {
				return err
			}
			cmd.Println("mongo indexes ensured")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMongo, "mongo", true, "also ensure mongo indexes")
	return cmd
}

func grantCmd() *cobra.Command {
	var (
		userID string
		amount int64
		reason string
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add credits to a user's balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := creditService()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			balance, err := svc.Grant(ctx, userID, amount, reason)
			if err != nil {
				return err
			}
			cmd.Printf("granted %d to %s, balance now %d\n", amount, userID, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	cmd.Flags().StringVar(&reason, "reason", "manual grant", "ledger reason")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func balanceCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a user's credit balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := creditService()
			if err != nil {
				return err
			}
			balance, err := svc.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			cmd.Println(balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func transactionsCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List a user's most recent ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := creditService()
			if err != nil {
				return err
			}
			txs, err := svc.Transactions(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tKIND\tAMOUNT\tBALANCE\tDESCRIPTION")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					tx.CreatedAt.Format(time.RFC3339), tx.Kind, tx.Amount, tx.BalanceAfter, tx.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
