package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/storage/postgres"
)

const (
	progressEvery = 10_000_000
	upsertBatch   = 1000
	// maxDumps keeps the per-file bitmask within a uint.
	maxDumps = bits.UintSize
)

// scanOptions controls how code dumps are matched.
type scanOptions struct {
	capacity   uint
	fpRate     float64
	minLen     int
	maxLen     int
	minMatches int
}

func (o scanOptions) accepts(code string) bool {
	return len(code) >= o.minLen && len(code) <= o.maxLen
}

type importOptions struct {
	scan        scanOptions
	kind        string
	value       string
	minOrder    string
	perCustomer int
	validity    time.Duration
	dryRun      bool
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	imp := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import DUMP.gz DUMP.gz [DUMP.gz...]",
		Short: "Import codes that appear in several gzip code dumps",
		Long: "Streams every dump twice: the first pass fills one bloom filter per dump, the second\n" +
			"keeps codes that the filters of other dumps also contain. Codes found in at least\n" +
			"--min-matches dumps are upserted as coupons built from the rule flags.",
		Args: cobra.RangeArgs(2, maxDumps),
		PreRunE: func(*cobra.Command, []string) error {
			_, err := imp.template(time.Now())
			return err
		},
		RunE: func(cmd *cobra.Command, files []string) error {
			return runImport(cmd.Context(), opts, imp, files)
		},
	}
	f := cmd.Flags()
	f.UintVar(&imp.scan.capacity, "bloom-capacity", 120_000_000, "expected codes per dump")
	f.Float64Var(&imp.scan.fpRate, "bloom-fp-rate", 0.001, "bloom filter false positive rate")
	f.IntVar(&imp.scan.minLen, "min-len", 8, "shortest accepted code")
	f.IntVar(&imp.scan.maxLen, "max-len", 10, "longest accepted code")
	f.IntVar(&imp.scan.minMatches, "min-matches", 2, "dumps a code must appear in")
	f.StringVar(&imp.kind, "kind", string(pricing.KindPercentage), "discount kind of imported coupons")
	f.StringVar(&imp.value, "value", "10", "discount value of imported coupons")
	f.StringVar(&imp.minOrder, "min-order", "0", "minimum order amount of imported coupons")
	f.IntVar(&imp.perCustomer, "per-customer", 1, "redemptions allowed per customer")
	f.DurationVar(&imp.validity, "validity", 30*24*time.Hour, "how long imported coupons stay valid")
	f.BoolVar(&imp.dryRun, "dry-run", false, "scan only, do not write")
	return cmd
}

// template returns the rule imported codes are created with.
func (o *importOptions) template(now time.Time) (coupon.Rule, error) {
	kind := pricing.Kind(o.kind)
	if !kind.Valid() {
		return coupon.Rule{}, errors.Errorf("unknown coupon kind %q", o.kind)
	}
	value, err := decimal.NewFromString(o.value)
	if err != nil || value.IsNegative() {
		return coupon.Rule{}, errors.Errorf("invalid value %q", o.value)
	}
	minOrder, err := decimal.NewFromString(o.minOrder)
	if err != nil || minOrder.IsNegative() {
		return coupon.Rule{}, errors.Errorf("invalid minimum order %q", o.minOrder)
	}
	if o.scan.minMatches < 2 {
		return coupon.Rule{}, errors.New("min-matches must be at least 2")
	}
	start := now.UTC()
	end := start.Add(o.validity)
	return coupon.Rule{
		Kind:             kind,
		Value:            value,
		MinOrderAmount:   minOrder,
		PerCustomerLimit: o.perCustomer,
		StartsAt:         &start,
		EndsAt:           &end,
		Status:           coupon.StatusActive,
		Active:           true,
	}, nil
}

func runImport(ctx context.Context, opts *rootOptions, imp *importOptions, files []string) error {
	lg := opts.lg
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	codes, err := scanDumps(ctx, lg, files, imp.scan)
	if err != nil {
		return err
	}
	lg.Info("Codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 || imp.dryRun {
		return nil
	}

	tmpl, err := imp.template(time.Now())
	if err != nil {
		return err
	}
	pool, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewCouponRepository(pool)

	written := 0
	for chunk := range slices.Chunk(codes, upsertBatch) {
		rules := make([]coupon.Rule, len(chunk))
		for i, code := range chunk {
			r := tmpl
			r.Code = code
			r.Name = "Imported code " + code
			rules[i] = r
		}
		if err := repo.Upsert(ctx, rules...); err != nil {
			return errors.Wrap(err, "upsert imported coupons")
		}
		written += len(chunk)
		lg.Info("Write progress", zap.Int("written", written), zap.Int("total", len(codes)))
	}
	return nil
}

// scanDumps returns the canonical codes present in at least minMatches of
// the dumps, sorted.
func scanDumps(ctx context.Context, lg *zap.Logger, files []string, o scanOptions) ([]string, error) {
	if len(files) > maxDumps {
		return nil, errors.Errorf("at most %d dumps", maxDumps)
	}
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildFilters(ctx, lg, files, o)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: matching codes across dumps")
	masks := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			m, err := matchFile(gctx, lg, i, path, filters, o)
			if err != nil {
				return errors.Wrapf(err, "scan dump %d", i+1)
			}
			masks[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	var codes []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= o.minMatches {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func buildFilters(ctx context.Context, lg *zap.Logger, files []string, o scanOptions) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(o.capacity, o.fpRate)
			var count uint64
			err := streamDump(ctx, path, func(code string) {
				if !o.accepts(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for dump %d", i+1)
			}
			lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// matchFile returns, for every code of dump idx that another filter also
// contains, a mask with the bit of idx and the bits of the matching dumps.
// Bloom filters have no false negatives, so a code seen in k dumps ends up
// with at least k bits.
func matchFile(ctx context.Context, lg *zap.Logger, idx int, path string, filters []*bloom.BloomFilter, o scanOptions) (map[string]uint, error) {
	found := make(map[string]uint)
	var count uint64
	err := streamDump(ctx, path, func(code string) {
		if !o.accepts(code) {
			return
		}
		count++
		if count%progressEvery == 0 {
			lg.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("codes", count))
		}
		mask := uint(1) << uint(idx)
		for j, f := range filters {
			if j != idx && f.TestString(code) {
				mask |= uint(1) << uint(j)
			}
		}
		if mask != uint(1)<<uint(idx) {
			found[code] |= mask
		}
	})
	if err != nil {
		return nil, err
	}
	lg.Info("Pass 2 complete", zap.Int("file", idx+1), zap.Uint64("codes", count), zap.Int("matches", len(found)))
	return found, nil
}

// streamDump calls fn with the canonical form of every line of a gzip dump.
func streamDump(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := coupon.Canonical(strings.TrimSpace(scanner.Text())); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
