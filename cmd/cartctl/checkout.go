package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/leafsense-cart/internal/domain/checkout"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
	"github.com/xenking/leafsense-cart/internal/domain/session"
)

func newCheckoutCmd(with runner) *cobra.Command {
	var (
		payment string
		note    string
		contact checkout.Contact
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Review the cart and place the order",
		Long: "Contact fields default to the signed-in identity. The cart and the coupon are\n" +
			"cleared only after the backend confirms the order.",
		Args: cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rc := e.reconciler()

			rv, err := rc.Review(ctx)
			if err != nil {
				return err
			}
			if rv.CouponDropped != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "coupon removed: %s\n", rv.CouponDropped)
			}

			c := checkout.Prefill(e.identity)
			overlay(&c.FullName, contact.FullName)
			overlay(&c.Email, contact.Email)
			overlay(&c.Phone, contact.Phone)
			overlay(&c.Address, contact.Address)
			c.Note = note

			receipt, err := rc.Submit(ctx, c, checkout.PaymentMethod(payment))
			if err != nil {
				if reason, ok := remote.Reason(err); ok {
					return errors.Errorf("order rejected: %s", reason)
				}
				if remote.Retryable(err) {
					return errors.Wrap(err, "order not confirmed, run checkout again to retry")
				}
				return err
			}

			_, _ = fmt.Fprintf(out, "order %s %s, total %s\n",
				receipt.OrderID, receipt.Status, receipt.TotalAmount.String())
			if receipt.Replayed {
				_, _ = fmt.Fprintln(out, "order was already placed earlier")
			}
			if receipt.StaleCart {
				_, _ = fmt.Fprintln(out, "cart changed while ordering and was kept")
			}
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&payment, "payment", string(checkout.PaymentCOD), "payment method: COD or MoMo")
	f.StringVar(&note, "note", "", "note for the order")
	f.StringVar(&contact.FullName, "name", "", "recipient name")
	f.StringVar(&contact.Email, "email", "", "contact email")
	f.StringVar(&contact.Phone, "phone", "", "contact phone")
	f.StringVar(&contact.Address, "address", "", "shipping address")
	return cmd
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newOrdersCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Print the customer's order history",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			orders, err := e.api.Orders(cmd.Context())
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no orders yet")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ORDER\tSTATUS\tTOTAL\tCOUPON\tPLACED")
			for _, o := range orders {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Status, o.TotalAmount.String(), o.CouponCode, o.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		}),
	}
}

func newLoginCmd(with runner) *cobra.Command {
	var id session.Identity
	cmd := &cobra.Command{
		Use:   "login CUSTOMER_ID",
		Short: "Store the customer identity for this session",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			id.CustomerID = args[0]
			if err := e.sessions.Save(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", id.CustomerID)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&id.FullName, "name", "", "full name")
	f.StringVar(&id.Email, "email", "", "email")
	f.StringVar(&id.Phone, "phone", "", "phone")
	f.StringVar(&id.Address, "address", "", "shipping address")
	return cmd
}

func newLogoutCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored identity",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			return e.sessions.Forget(cmd.Context())
		}),
	}
}
