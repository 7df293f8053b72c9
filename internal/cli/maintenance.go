package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/config"
	"stockledger/pkg/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewSweepCommand releases expired reservations once and exits.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired reservations once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				released, err := app.Reservations.SweepExpired(ctx)
				if err != nil {
					return err
				}
				app.Logger.Info("sweep finished", zap.Int("released", released))
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "released %d expired reservations\n", released)
				return err
			})
		},
	}
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <product-id>",
		Short: "Compare quantity on hand with the movement log",
		Long: `Sum every movement recorded for a product and compare the result with its
quantity on hand. Exits non-zero when the two disagree.

Example:
  stockledger reconcile 6f1c2a4e-9d1b-4c55-8a3e-0b7c1d2e3f40`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := common.ValidateUUID(args[0], "product_id")
			if err != nil {
				return err
			}
			return rootOpts.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				report, err := app.Ledger.Reconcile(ctx, productID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if !report.Balanced {
					return fmt.Errorf("product %s drifted by %d", productID, report.Drift)
				}
				return nil
			})
		},
	}
}

// NewMigrateCommand applies the embedded schema without starting the engine.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Store.Driver != config.StoreDriverPostgres {
				return common.NewConfigurationError("store.driver", "migrate requires the postgres driver")
			}

			ctx := cmd.Context()
			pool, err := database.NewPool(ctx, database.PoolConfig{DSN: cfg.Postgres.URL}, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info("schema applied")

			if cfg.Redis.Enabled {
				client := caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				defer client.Close()
				if err := caching.NewRedisCacheService(client, log).InvalidateAllCache(ctx); err != nil {
					log.Warn("failed to flush cache after migration", zap.Error(err))
				}
			}
			return nil
		},
	}
}
