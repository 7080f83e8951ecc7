package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"credits/internal/models"
	"credits/internal/promotion"
	"credits/internal/services"
	"credits/internal/store"

	"github.com/spf13/cobra"
)

func (c *cli) newPromotionsCmd() *cobra.Command {
	promotions := &cobra.Command{
		Use:   "promotions",
		Short: "Manage the promotion catalog",
	}
	promotions.AddCommand(c.newPromotionsImportCmd())
	promotions.AddCommand(c.newPromotionsListCmd())
	promotions.AddCommand(c.newTransitionCmd("activate", "Activate a promotion", (*services.CreditService).ActivatePromotion))
	promotions.AddCommand(c.newTransitionCmd("pause", "Pause an active promotion", (*services.CreditService).PausePromotion))
	promotions.AddCommand(c.newTransitionCmd("expire", "Expire a promotion", (*services.CreditService).ExpirePromotion))
	return promotions
}

type importResult struct {
	ID     string                 `json:"id"`
	Status models.PromotionStatus `json:"status,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func (c *cli) newPromotionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.toml>",
		Short: "Create promotions from a TOML catalog",
		Long: "Creates every promotion in the catalog as DRAFT and activates the ones marked activate = true.\n" +
			"Entries that fail are reported and the rest still import.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			definitions, err := promotion.LoadCatalog(f)
			if err != nil {
				return err
			}

			results := make([]importResult, 0, len(definitions))
			failed := 0
			for _, def := range definitions {
				res := c.importOne(cmd.Context(), def)
				if res.Error != "" {
					failed++
				}
				results = append(results, res)
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d promotions failed to import", failed, len(definitions))
			}
			return nil
		},
	}
}

func (c *cli) importOne(ctx context.Context, def promotion.Definition) importResult {
	res := importResult{ID: def.Promotion.ID}
	created, err := c.credits().CreatePromotion(ctx, def.Promotion)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = created.Status
	if !def.Activate {
		return res
	}
	activated, err := c.credits().ActivatePromotion(ctx, created.ID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = activated.Status
	return res
}

func (c *cli) newPromotionsListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List promotions in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter store.PromotionFilter
			for _, status := range statuses {
				filter.Statuses = append(filter.Statuses, models.PromotionStatus(strings.ToUpper(status)))
			}
			promotions, err := c.credits().ListPromotions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if promotions == nil {
				promotions = []models.Promotion{}
			}
			return printJSON(cmd.OutOrStdout(), promotions)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses, e.g. --status active,paused")
	return cmd
}

type transitionFunc func(*services.CreditService, context.Context, string) (models.Promotion, error)

func (c *cli) newTransitionCmd(use, short string, move transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <promotion-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := move(c.credits(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func (c *cli) newAuditCmd() *cobra.Command {
	var (
		filter store.AuditFilter
		userID string
		action string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID != "" {
				filter.UserID = &userID
			}
			if action != "" {
				a := models.AuditAction(action)
				filter.Action = &a
			}
			records, err := c.credits().ListAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if records == nil {
				records = []models.AuditRecord{}
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only records for this user")
	cmd.Flags().StringVar(&action, "action", "", "only this action, e.g. credits_added")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum records")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "records to skip")
	return cmd
}
