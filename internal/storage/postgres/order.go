package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/order"
)

const orderColumns = `id, customer_id, original_amount, discount_amount, total_amount, coupon_id, coupon_code,
	status, payment_method, shipping_name, shipping_phone, shipping_address, email, note,
	idempotency_key, created_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)`

	createUsageSQL = `INSERT INTO coupon_usages (coupon_id, customer_id, order_id, discount_amount, order_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	lockCouponSQL = `SELECT COALESCE(total_usage_limit, 0), usage_limit_per_customer, current_usage_count
		FROM coupons WHERE id = $1 FOR UPDATE`

	bumpCouponUsageSQL = `UPDATE coupons SET current_usage_count = current_usage_count + 1
		WHERE id = $1 AND (total_usage_limit IS NULL OR current_usage_count < total_usage_limit)`

	getOrderByIDSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 AND idempotency_key = $2`
	listOrdersSQL    = `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC, id`

	listOrderItemsSQL = `SELECT order_id, product_id, quantity, price FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, position`
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order with its items and, when usage is set, the
// coupon redemption, in one transaction. The coupon row is locked while its
// limits are rechecked; a redemption past them fails with
// *order.CouponRejectedError. A duplicate idempotency key is reported as
// order.ErrInFlight.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, usage *coupon.Usage) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if usage != nil {
			if err := checkRedeemable(ctx, tx, o.CouponCode, usage); err != nil {
				return err
			}
		}

		var couponID *int64
		if o.CouponID != 0 {
			couponID = &o.CouponID
		}
		var key *string
		if o.IdempotencyKey != "" {
			key = &o.IdempotencyKey
		}
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.CustomerID, o.OriginalAmount, o.DiscountAmount, o.TotalAmount, couponID, o.CouponCode,
			string(o.Status), string(o.PaymentMethod), o.Shipping.Name, o.Shipping.Phone, o.Shipping.Address,
			o.Email, o.Note, key, o.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}

		b := &pgx.Batch{}
		for i, it := range o.Items {
			b.Queue(createOrderItemSQL, o.ID, i, it.ProductID, it.Quantity, it.Price)
		}
		if usage != nil {
			b.Queue(createUsageSQL, usage.CouponID, usage.CustomerID, usage.OrderID,
				usage.DiscountAmount, usage.OrderAmount, usage.UsedAt)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "insert order lines")
		}

		if usage != nil {
			tag, err := tx.Exec(ctx, bumpCouponUsageSQL, usage.CouponID)
			if err != nil {
				return errors.Wrap(err, "bump coupon usage")
			}
			if tag.RowsAffected() != 1 {
				return &order.CouponRejectedError{Code: o.CouponCode, Reason: coupon.ReasonExhausted}
			}
		}
		return nil
	})
	if err != nil {
		var rejected *order.CouponRejectedError
		if errors.As(err, &rejected) {
			return rejected
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && o.IdempotencyKey != "" {
			return errors.Wrapf(order.ErrInFlight, "order %q", o.ID)
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// checkRedeemable locks the coupon row and rechecks its limits against the
// usage recorded so far.
func checkRedeemable(ctx context.Context, tx pgx.Tx, code string, usage *coupon.Usage) error {
	var rule coupon.Rule
	err := tx.QueryRow(ctx, lockCouponSQL, usage.CouponID).
		Scan(&rule.TotalUsageLimit, &rule.PerCustomerLimit, &rule.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &order.CouponRejectedError{Code: code, Reason: coupon.ReasonNotFound}
		}
		return errors.Wrap(err, "lock coupon")
	}
	var used int
	if err := tx.QueryRow(ctx, countCouponUsageSQL, usage.CouponID, usage.CustomerID).Scan(&used); err != nil {
		return errors.Wrap(err, "count coupon usage")
	}
	if reason := rule.RedeemReason(used); reason != "" {
		return &order.CouponRejectedError{Code: code, Reason: reason}
	}
	return nil
}

// FindByIdempotencyKey returns the order the customer placed with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, customerID, key string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByKeySQL, customerID, key)
}

// FindByID returns the order with id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

func (r *OrderRepository) findOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "load order items")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      order.Item
			qty     int32
		)
		if err := rows.Scan(&orderID, &it.ProductID, &qty, &it.Price); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		it.Quantity = int(qty)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "load order items")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		couponID *int64
		status   string
		method   string
		key      *string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.OriginalAmount, &o.DiscountAmount, &o.TotalAmount, &couponID, &o.CouponCode,
		&status, &method, &o.Shipping.Name, &o.Shipping.Phone, &o.Shipping.Address, &o.Email, &o.Note,
		&key, &o.CreatedAt,
	)
	if couponID != nil {
		o.CouponID = *couponID
	}
	if key != nil {
		o.IdempotencyKey = *key
	}
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	return o, err
}
