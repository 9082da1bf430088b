package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipping   Status = "shipping"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "COD"
	PaymentMoMo PaymentMethod = "MoMo"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentMoMo
}

// Order is a placed customer order with pricing and discount details.
type Order struct {
	ID             string
	CustomerID     string
	Items          []Item
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	// CouponID is zero when no coupon was redeemed.
	CouponID       int64
	CouponCode     string
	Status         Status
	PaymentMethod  PaymentMethod
	Shipping       Shipping
	Email          string
	Note           string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Item is an order line priced at the time of ordering.
type Item struct {
	ProductID string          `validate:"required"`
	Quantity  int             `validate:"gt=0"`
	Price     decimal.Decimal `validate:"-"`
}

// Shipping is the delivery contact of an order.
type Shipping struct {
	Name    string `validate:"required"`
	Phone   string `validate:"required"`
	Address string `validate:"required"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and, when usage is not nil, records the coupon
	// redemption and bumps the coupon usage counter in the same transaction.
	// A redemption past the coupon's total or per-customer limit fails with
	// *CouponRejectedError and stores nothing.
	Create(ctx context.Context, o *Order, usage *coupon.Usage) error
	// FindByIdempotencyKey returns the order the customer placed with key or
	// ErrNotFound. Keys are scoped per customer.
	FindByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error)
	// FindByID returns the order or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Order, error)
	// ListByCustomer returns the customer's orders, newest first.
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
}

// Guard reserves idempotency keys while their order is being placed.
type Guard interface {
	// Reserve claims key. It returns false when the key is already claimed.
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// CouponEvaluator is the server-side coupon authority.
type CouponEvaluator interface {
	Evaluate(ctx context.Context, code string, amount decimal.Decimal, customerID string) (*coupon.Evaluation, error)
}
