package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

func writeDump(t *testing.T, dir, name string, codes ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(codes, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func smallScan() scanOptions {
	return scanOptions{capacity: 1000, fpRate: 0.0001, minLen: 8, maxLen: 10, minMatches: 2}
}

func TestScanDumps(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeDump(t, dir, "a.gz", "LEAFCODE1", "ONLYINA01", "short", "shared22", "WAYTOOLONGCODE"),
		writeDump(t, dir, "b.gz", "leafcode1", "ONLYINB01", "  SHARED22  "),
		writeDump(t, dir, "c.gz", "LEAFCODE1", "THIRDONLY"),
	}

	codes, err := scanDumps(context.Background(), zap.NewNop(), files, smallScan())
	require.NoError(t, err)
	assert.Equal(t, []string{"LEAFCODE1", "SHARED22"}, codes)

	o := smallScan()
	o.minMatches = 3
	codes, err = scanDumps(context.Background(), zap.NewNop(), files, o)
	require.NoError(t, err)
	assert.Equal(t, []string{"LEAFCODE1"}, codes)
}

func TestScanDumps_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeDump(t, dir, "a.gz", "LEAFCODE1")
	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("LEAFCODE1\n"), 0o600))

	_, err := scanDumps(context.Background(), zap.NewNop(), []string{good, plain}, smallScan())
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scanDumps(ctx, zap.NewNop(), []string{good, good}, smallScan())
	require.ErrorIs(t, err, context.Canceled)
}

func TestImportTemplate(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	valid := importOptions{
		scan:        smallScan(),
		kind:        "fixed",
		value:       "20000",
		minOrder:    "100000",
		perCustomer: 2,
		validity:    24 * time.Hour,
	}

	r, err := valid.template(now)
	require.NoError(t, err)
	assert.Equal(t, pricing.KindFixed, r.Kind)
	assert.Equal(t, "20000", r.Value.String())
	assert.Equal(t, 2, r.PerCustomerLimit)
	assert.Equal(t, now.Add(24*time.Hour), *r.EndsAt)
	assert.Empty(t, r.Check(now.Add(time.Hour)))

	tests := []struct {
		name   string
		mutate func(*importOptions)
	}{
		{"unknown kind", func(o *importOptions) { o.kind = "bogo" }},
		{"bad value", func(o *importOptions) { o.value = "ten" }},
		{"negative value", func(o *importOptions) { o.value = "-1" }},
		{"bad min order", func(o *importOptions) { o.minOrder = "x" }},
		{"single match", func(o *importOptions) { o.scan.minMatches = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			_, err := o.template(now)
			require.Error(t, err)
		})
	}
}

func TestSampleRules(t *testing.T) {
	now := time.Now()
	rules := sampleRules(now)
	require.Len(t, rules, 10)

	seen := map[string]bool{}
	for _, r := range rules {
		assert.False(t, seen[r.Code], "duplicate %s", r.Code)
		seen[r.Code] = true
		assert.True(t, r.Kind.Valid(), r.Code)
		assert.Empty(t, r.Check(now.Add(time.Minute)), r.Code)
		if r.Kind != pricing.KindPercentage {
			assert.False(t, r.MaxDiscount.Valid, "%s caps a non-percentage discount", r.Code)
		}
	}

	var welcome coupon.Rule
	for _, r := range rules {
		if r.Code == "WELCOME20" {
			welcome = r
		}
	}
	q, reason := coupon.QuoteFor(&welcome, welcome.MinOrderAmount.Mul(welcome.Value))
	require.Empty(t, reason)
	assert.True(t, q.Discount.Equal(welcome.MaxDiscount.Decimal), "large orders hit the cap")
}

func TestRootCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cmd := newRootCmd(zap.NewNop())
	cmd.SetArgs([]string{"seed"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}
