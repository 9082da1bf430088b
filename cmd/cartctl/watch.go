package main

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/leafsense-cart/internal/domain/cart"
)

func newWatchCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow changes made to the cart by other views",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			out := cmd.OutOrStdout()
			if err := printCart(out, e); err != nil {
				return err
			}
			unsubscribe := e.cart.OnChange(func(ev cart.Event) {
				if !ev.Remote {
					return
				}
				_, _ = fmt.Fprintf(out, "\n-- version %d --\n", ev.Version)
				_ = printCart(out, e)
			})
			defer unsubscribe()

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return e.cart.Sync(ctx) })
			g.Go(func() error { return e.coupons.Sync(ctx) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
}
