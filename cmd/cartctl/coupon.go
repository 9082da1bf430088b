package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/xenking/leafsense-cart/internal/domain/remote"
)

func newCouponCmd(with runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupon",
		Short: "Manage the applied coupon",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "apply CODE",
			Short: "Validate a coupon against the cart subtotal and apply it",
			Args:  cobra.ExactArgs(1),
			RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
				subtotal := e.snapshot().Subtotal
				a, err := e.coupons.Apply(cmd.Context(), args[0], subtotal)
				if err != nil {
					if reason, ok := remote.Reason(err); ok {
						return errors.Errorf("coupon rejected: %s", reason)
					}
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %s: -%s\n", a.Code, a.Discount.String())
				return printCart(cmd.OutOrStdout(), e)
			}),
		},
		&cobra.Command{
			Use:   "remove",
			Short: "Remove the applied coupon",
			Args:  cobra.NoArgs,
			RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
				if err := e.coupons.Remove(cmd.Context()); err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), e)
			}),
		},
		newAvailableCmd(with),
	)
	return cmd
}

func newAvailableCmd(with runner) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "available",
		Short: "List coupons the customer can use",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			amount := decimal.NullDecimal{}
			if !all {
				amount = decimal.NewNullDecimal(e.snapshot().Subtotal)
			}
			offers, err := e.api.Available(cmd.Context(), amount)
			if err != nil {
				return err
			}
			if len(offers) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no coupons available")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CODE\tKIND\tVALUE\tMIN ORDER\tUSABLE")
			for _, o := range offers {
				usable := "yes"
				if !o.CanUse {
					usable = "no: " + o.Reason
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					o.Code, o.Kind, o.Value.String(), o.MinOrderAmount.String(), usable)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "ignore the cart subtotal")
	return cmd
}
