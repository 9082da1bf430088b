package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/storage/postgres"
)

// sampleValidity is how long seeded coupons stay valid.
const sampleValidity = 90 * 24 * time.Hour

type sample struct {
	code, name, description string
	kind                    pricing.Kind
	value                   int64
	minOrder                int64
	maxDiscount             int64
	totalLimit              int
	perCustomer             int
}

var samples = []sample{
	{"LEAFSENSE10", "10% off your first order", "10% off orders from 100,000 VND", pricing.KindPercentage, 10, 100_000, 50_000, 1000, 1},
	{"WELCOME20", "Welcome discount", "20% off for new customers on orders from 200,000 VND", pricing.KindPercentage, 20, 200_000, 100_000, 500, 1},
	{"FIXED50K", "50,000 VND off", "50,000 VND off orders from 300,000 VND", pricing.KindFixed, 50_000, 300_000, 0, 200, 2},
	{"SAVE100K", "Save 100,000 VND", "100,000 VND off orders from 500,000 VND", pricing.KindFixed, 100_000, 500_000, 0, 100, 1},
	{"FREESHIP", "Free shipping", "Free shipping on orders from 150,000 VND", pricing.KindFreeShipping, 30_000, 150_000, 0, 1000, 5},
	{"SUMMER25", "Summer sale", "25% off orders from 250,000 VND", pricing.KindPercentage, 25, 250_000, 150_000, 300, 1},
	{"LOYAL15", "Loyal customer", "15% off with no minimum order", pricing.KindPercentage, 15, 0, 75_000, 500, 3},
	{"MEGA30", "Mega 30%", "30% off large orders from 1,000,000 VND", pricing.KindPercentage, 30, 1_000_000, 300_000, 50, 1},
	{"FLASH200K", "Flash sale 200K", "200,000 VND off orders from 800,000 VND", pricing.KindFixed, 200_000, 800_000, 0, 30, 1},
	{"WEEKEND12", "Weekend deal", "12% off weekend orders from 180,000 VND", pricing.KindPercentage, 12, 180_000, 60_000, 800, 2},
}

// sampleRules returns the sample coupons valid from now for sampleValidity.
func sampleRules(now time.Time) []coupon.Rule {
	start := now.UTC()
	end := start.Add(sampleValidity)
	rules := make([]coupon.Rule, len(samples))
	for i, s := range samples {
		r := coupon.Rule{
			Code:             s.code,
			Name:             s.name,
			Description:      s.description,
			Kind:             s.kind,
			Value:            decimal.NewFromInt(s.value),
			MinOrderAmount:   decimal.NewFromInt(s.minOrder),
			TotalUsageLimit:  s.totalLimit,
			PerCustomerLimit: s.perCustomer,
			StartsAt:         &start,
			EndsAt:           &end,
			Status:           coupon.StatusActive,
			Active:           true,
		}
		if s.maxDiscount > 0 {
			r.MaxDiscount = decimal.NewNullDecimal(decimal.NewFromInt(s.maxDiscount))
		}
		rules[i] = r
	}
	return rules
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert the sample coupons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rules := sampleRules(time.Now())
			if err := postgres.NewCouponRepository(pool).Upsert(ctx, rules...); err != nil {
				return errors.Wrap(err, "seed coupons")
			}
			for _, r := range rules {
				opts.lg.Info("Upserted coupon", zap.String("code", r.Code), zap.String("name", r.Name))
			}
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the coupons that are currently live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rules, err := postgres.NewCouponRepository(pool).ListActive(ctx, time.Now())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CODE\tKIND\tVALUE\tMIN ORDER\tUSED")
			for _, r := range rules {
				used := strconv.Itoa(r.UsageCount)
				if r.TotalUsageLimit > 0 {
					used += "/" + strconv.Itoa(r.TotalUsageLimit)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Code, r.Kind, r.Value.String(), r.MinOrderAmount.String(), used)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(rules) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no live coupons")
			}
			return nil
		},
	}
}
