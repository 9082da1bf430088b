// Command cartctl drives a LeafSense cart stored in Redis against the shop
// backend.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/client"
	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/checkout"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/session"
	"github.com/xenking/leafsense-cart/internal/storage/redis"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = os.Stderr.WriteString("cartctl: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}

type globalOptions struct {
	redisURL string
	apiURL   string
	session  string
	customer string
	verbose  bool
}

// env is the engine wired for one invocation.
type env struct {
	lg       *zap.Logger
	rdb      *goredis.Client
	identity session.Identity
	sessions *session.Store
	api      *client.Client
	cart     *cart.Store
	coupons  *coupon.Selection
}

func (e *env) close() {
	_ = e.rdb.Close()
	_ = e.lg.Sync()
}

func (e *env) reconciler() *checkout.Reconciler {
	return checkout.New(e.cart, e.coupons, e.api, checkout.WithLogger(e.lg))
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Manage a LeafSense cart",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.redisURL, "redis-url", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL holding the cart")
	f.StringVar(&opts.apiURL, "api", envOr("LEAFSENSE_API_URL", "http://localhost:8080"), "shop backend base URL")
	f.StringVar(&opts.session, "session", envOr("LEAFSENSE_SESSION", "default"), "session namespace of the cart")
	f.StringVar(&opts.customer, "customer", "", "customer id, overrides the signed-in identity")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity")

	with := func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			return run(cmd, e, args)
		}
	}

	cmd.AddCommand(
		newAddCmd(with),
		newRemoveCmd(with),
		newQtyCmd(with),
		newIncCmd(with),
		newDecCmd(with),
		newClearCmd(with),
		newListCmd(with),
		newCouponCmd(with),
		newCheckoutCmd(with),
		newOrdersCmd(with),
		newLoginCmd(with),
		newLogoutCmd(with),
		newWatchCmd(with),
	)
	return cmd
}

// runner adapts a command body that needs the wired engine.
type runner func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func (o *globalOptions) open(ctx context.Context) (*env, error) {
	lg, err := o.logger()
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}
	rdb, err := redis.Connect(ctx, o.redisURL)
	if err != nil {
		return nil, err
	}
	e := &env{lg: lg, rdb: rdb}
	if err := e.wire(ctx, o); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) wire(ctx context.Context, o *globalOptions) error {
	slots := redis.NewSlots(e.rdb, o.session)
	feed := redis.NewFeed(e.rdb, o.session, e.lg)

	e.sessions = session.New(slots, e.lg)
	id, err := e.sessions.Load(ctx)
	if err != nil {
		return err
	}
	e.identity = id
	customer := id.CustomerID
	if o.customer != "" {
		customer = o.customer
	}

	e.api, err = client.New(o.apiURL, client.WithCustomer(customer), client.WithLogger(e.lg))
	if err != nil {
		return err
	}
	e.coupons, err = coupon.OpenSelection(ctx, slots, e.api,
		coupon.WithSelectionFeed(feed),
		coupon.WithSelectionLogger(e.lg),
	)
	if err != nil {
		return err
	}
	e.cart, err = cart.Open(ctx, slots,
		cart.WithFeed(feed),
		cart.WithLinked(e.coupons),
		cart.WithLogger(e.lg),
	)
	return err
}
