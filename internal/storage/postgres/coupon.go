package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

const couponColumns = `id, code, name, description, coupon_type, value, minimum_order_amount,
	maximum_discount_amount, total_usage_limit, usage_limit_per_customer, current_usage_count,
	start_date, end_date, status, is_active`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND is_active = TRUE`

	listActiveCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE is_active = TRUE AND status = 'active'
			AND (start_date IS NULL OR start_date <= $1)
			AND (end_date IS NULL OR end_date >= $1)
		ORDER BY id`

	countCouponUsageSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND customer_id = $2`

	upsertCouponSQL = `INSERT INTO coupons (code, name, description, coupon_type, value, minimum_order_amount,
			maximum_discount_amount, total_usage_limit, usage_limit_per_customer, start_date, end_date,
			status, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			coupon_type = EXCLUDED.coupon_type,
			value = EXCLUDED.value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			total_usage_limit = EXCLUDED.total_usage_limit,
			usage_limit_per_customer = EXCLUDED.usage_limit_per_customer,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// ListActive returns active coupons whose window contains now, by id.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	rules, err := pgx.CollectRows(rows, scanCouponRule)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return rules, nil
}

// CountUsage returns how often customerID redeemed couponID.
func (r *CouponRepository) CountUsage(ctx context.Context, couponID int64, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCouponUsageSQL, couponID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count coupon usage")
	}
	return n, nil
}

// Upsert inserts the rules, updating existing codes in place. The usage
// counters of existing coupons are kept.
func (r *CouponRepository) Upsert(ctx context.Context, rules ...coupon.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := range rules {
		c := &rules[i]
		var totalLimit *int
		if c.TotalUsageLimit > 0 {
			totalLimit = &c.TotalUsageLimit
		}
		status := c.Status
		if status == "" {
			status = coupon.StatusActive
		}
		b.Queue(upsertCouponSQL,
			c.Code, c.Name, c.Description, string(c.Kind), c.Value, c.MinOrderAmount,
			c.MaxDiscount, totalLimit, c.PerCustomerLimit, c.StartsAt, c.EndsAt,
			string(status), c.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule       coupon.Rule
		kind       string
		status     string
		totalLimit *int32
		perCust    int32
		usage      int32
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Name, &rule.Description, &kind, &rule.Value, &rule.MinOrderAmount,
		&rule.MaxDiscount, &totalLimit, &perCust, &usage,
		&rule.StartsAt, &rule.EndsAt, &status, &rule.Active,
	)
	rule.Kind = pricing.Kind(kind)
	rule.Status = coupon.Status(status)
	if totalLimit != nil {
		rule.TotalUsageLimit = int(*totalLimit)
	}
	rule.PerCustomerLimit = int(perCust)
	rule.UsageCount = int(usage)
	return rule, err
}
