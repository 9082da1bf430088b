// Command seed-db loads coupons into the LeafSense database.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/storage/postgres"
)

type rootOptions struct {
	databaseURL string
	migrate     bool
	lg          *zap.Logger
}

func main() {
	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd(lg).ExecuteContext(ctx); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func newRootCmd(lg *zap.Logger) *cobra.Command {
	opts := &rootOptions{lg: lg}
	cmd := &cobra.Command{
		Use:           "seed-db",
		Short:         "Load coupons into the LeafSense database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.databaseURL == "" {
				opts.databaseURL = os.Getenv("DATABASE_URL")
			}
			if opts.databaseURL == "" {
				return errors.New("database URL is required: set --database-url or DATABASE_URL")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	cmd.PersistentFlags().BoolVar(&opts.migrate, "migrate", true, "apply schema migrations first")

	cmd.AddCommand(
		newSeedCmd(opts),
		newImportCmd(opts),
		newListCmd(opts),
	)
	return cmd
}

// connect migrates the schema when asked and opens a pool.
func (o *rootOptions) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if o.migrate {
		o.lg.Info("Running migrations")
		if err := postgres.RunMigrations(o.databaseURL); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
	}
	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return pool, nil
}
