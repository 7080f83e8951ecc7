package main

import (
	"context"
	"fmt"

	"credits/internal/models"
	"credits/internal/services"

	"github.com/spf13/cobra"
)

func (c *cli) newAccountsCmd() *cobra.Command {
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and open user balances",
	}
	accounts.AddCommand(c.newAccountsOpenCmd())
	accounts.AddCommand(c.newAccountsBalanceCmd())
	accounts.AddCommand(c.newAccountsHistoryCmd())
	accounts.AddCommand(c.newAccountsReconcileCmd())
	accounts.AddCommand(c.newAccountsPromotionsCmd())
	return accounts
}

func (c *cli) newAccountsOpenCmd() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "open <user-id>",
		Short: "Open a zero balance for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if currency == "" {
				currency = c.cfg.DefaultCurrency
			}
			balance, err := c.credits().OpenAccount(cmd.Context(), args[0], currency)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "balance currency (default from DEFAULT_CURRENCY)")
	return cmd
}

func (c *cli) newAccountsBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show the current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := c.credits().GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		},
	}
}

func (c *cli) newAccountsHistoryCmd() *cobra.Command {
	var filter models.HistoryFilter
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.credits().GetHistory(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []models.LedgerEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "entries to skip")
	return cmd
}

func (c *cli) newAccountsReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Compare the stored balance with the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.credits().Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Consistent {
				return errInconsistent(report)
			}
			return nil
		},
	}
}

func (c *cli) newAccountsPromotionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promotions <user-id>",
		Short: "List the promotions granted to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applications, err := c.credits().ListApplications(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if applications == nil {
				applications = []models.PromotionApplication{}
			}
			return printJSON(cmd.OutOrStdout(), applications)
		},
	}
}

type postFunc func(*services.CreditService, context.Context, services.CreditParams) services.CreditResult

func (c *cli) newCreditsCmd() *cobra.Command {
	credits := &cobra.Command{
		Use:   "credits",
		Short: "Post credits and debits",
	}
	credits.AddCommand(c.newPostCmd("add", "Credit a user", (*services.CreditService).AddCredits))
	credits.AddCommand(c.newPostCmd("deduct", "Debit a user", (*services.CreditService).DeductCredits))
	credits.AddCommand(c.newPostCmd("refund", "Refund credits to a user", (*services.CreditService).RefundCredits))
	credits.AddCommand(c.newPostCmd("adjust", "Apply a signed admin adjustment", (*services.CreditService).AdjustBalance))
	return credits
}

func (c *cli) newPostCmd(use, short string, post postFunc) *cobra.Command {
	var (
		params    services.CreditParams
		reference string
		key       string
	)
	cmd := &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.UserID = args[0]
			if reference != "" {
				params.ReferenceID = &reference
			}
			if key != "" {
				params.IdempotencyKey = &key
			}
			result := post(c.credits(), cmd.Context(), params)
			return printResult(cmd.OutOrStdout(), result, result.Error)
		},
	}
	cmd.Flags().StringVar(&params.Amount, "amount", "", "decimal amount; negative only for adjust")
	cmd.Flags().StringVar(&params.Currency, "currency", "", "currency (default from DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&params.Reason, "reason", "", "ledger reason, e.g. TOPUP or RESERVATION_PAYMENT")
	cmd.Flags().StringVar(&reference, "reference", "", "external reference id")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "replay-safe request key")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func errInconsistent(report services.Reconciliation) error {
	return fmt.Errorf("balance of %s is off by %s %s", report.UserID, report.Difference.String(), report.Currency)
}
