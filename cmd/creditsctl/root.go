package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"credits/internal/app"
	"credits/internal/config"
	"credits/internal/logging"
	"credits/internal/services"

	"github.com/spf13/cobra"
)

type opener func(ctx context.Context, cfg config.Config) (*app.App, error)

type cli struct {
	open        opener
	storeDriver string
	logLevel    string
	cfg         config.Config
	app         *app.App
}

func defaultOpener(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.Build(ctx, cfg, logging.New(cfg.LogLevel))
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "creditsctl",
		Short:         "Operate the credit ledger and promotion catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv(logging.Discard())
			cfg := config.Load()
			if c.storeDriver != "" {
				cfg.StoreDriver = c.storeDriver
			}
			cfg.LogLevel = c.logLevel
			c.cfg = cfg
			a, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.storeDriver, "store", "", "store driver: postgres|memory (default from STORE_DRIVER)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level for the underlying services")

	root.AddCommand(c.newAccountsCmd())
	root.AddCommand(c.newCreditsCmd())
	root.AddCommand(c.newPromotionsCmd())
	root.AddCommand(c.newAuditCmd())
	return root
}

func (c *cli) credits() *services.CreditService {
	return c.app.Credits
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a posting result and turns a failure into a command
// error so the process exits non-zero.
func printResult(w io.Writer, v any, opErr *services.OperationError) error {
	if err := printJSON(w, v); err != nil {
		return err
	}
	if opErr != nil {
		return fmt.Errorf("%s: %s", opErr.Code, opErr.Message)
	}
	return nil
}
