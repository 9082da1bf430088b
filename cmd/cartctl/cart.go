package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

func newAddCmd(with runner) *cobra.Command {
	var (
		qty   int
		stock int
		image string
	)
	cmd := &cobra.Command{
		Use:   "add ID NAME PRICE",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(3),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			price, err := decimal.NewFromString(args[2])
			if err != nil {
				return errors.Errorf("invalid price %q", args[2])
			}
			item := cart.LineItem{
				ID:         args[0],
				Name:       args[1],
				UnitPrice:  price,
				ImageRef:   image,
				StockLimit: stock,
			}
			if err := e.cart.AddItem(cmd.Context(), item, qty); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
	cmd.Flags().IntVarP(&qty, "qty", "q", 1, "quantity to add")
	cmd.Flags().IntVar(&stock, "stock", 0, "stock limit of the product")
	cmd.Flags().StringVar(&image, "image", "", "image reference")
	return cmd
}

func newRemoveCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.cart.RemoveItem(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
}

// confirmFlag agrees to removals when --yes is set. Without it a removal
// fails with cart.ErrConfirmationRequired.
func confirmFlag(yes bool) cart.ConfirmFunc {
	if !yes {
		return nil
	}
	return func(cart.LineItem) bool { return true }
}

func needsYes(err error) error {
	if errors.Is(err, cart.ErrConfirmationRequired) {
		return errors.Wrap(err, "pass --yes to remove the item")
	}
	return err
}

func newQtyCmd(with runner) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "qty ID QUANTITY",
		Short: "Set the quantity of a product",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("invalid quantity %q", args[1])
			}
			if err := e.cart.SetQuantity(cmd.Context(), args[0], qty, confirmFlag(yes)); err != nil {
				return needsYes(err)
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal when the quantity drops to zero")
	return cmd
}

func newIncCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "inc ID",
		Short: "Add one unit of a product",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.cart.Increment(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
}

func newDecCmd(with runner) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "dec ID",
		Short: "Remove one unit of a product",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.cart.Decrement(cmd.Context(), args[0], confirmFlag(yes)); err != nil {
				return needsYes(err)
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal of the last unit")
	return cmd
}

func newClearCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart and drop the applied coupon",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			if err := e.cart.Clear(cmd.Context()); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
}

func newListCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print the cart with its totals",
		Args:    cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, e *env, _ []string) error {
			return printCart(cmd.OutOrStdout(), e)
		}),
	}
}

// snapshot prices the current cart with the applied coupon's discount.
func (e *env) snapshot() pricing.Snapshot {
	return pricing.Calculate(cart.Lines(e.cart.Items()), e.coupons.Discount())
}

func printCart(out io.Writer, e *env) error {
	items := e.cart.Items()
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "cart is empty")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPRICE\tQTY\tTOTAL")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.Name, it.UnitPrice.String(), it.Quantity, it.LineTotal().String())
	}
	_, _ = fmt.Fprintln(w)
	s := e.snapshot()
	_, _ = fmt.Fprintf(w, "subtotal\t%s\n", s.Subtotal.String())
	if a := e.coupons.Current(); a != nil {
		_, _ = fmt.Fprintf(w, "coupon %s\t-%s\n", a.Code, s.Discount.String())
	}
	_, _ = fmt.Fprintf(w, "total\t%s\n", s.Total.String())
	return w.Flush()
}
