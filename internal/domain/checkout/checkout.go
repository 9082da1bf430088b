// Package checkout turns the cart and the applied coupon into a submitted
// order. Local state is cleared only after the backend confirms the order.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/domain/session"
)

// State is the checkout state.
type State int

const (
	StateIdle State = iota
	StateReviewing
	StateSubmitting
	StateConfirmed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReviewing:
		return "reviewing"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrEmptyCart is returned when checking out an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrSubmitInFlight is returned when a submission is already running.
	ErrSubmitInFlight = errors.New("order submission in progress")
	// ErrTotalMismatch is returned when the total shown at review no longer
	// matches the cart contents.
	ErrTotalMismatch = errors.New("order total does not match cart")
)

// ValidationError lists contact fields that are missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid contact fields: " + strings.Join(e.Fields, ", ")
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "COD"
	PaymentMoMo PaymentMethod = "MoMo"
)

// Contact is the customer contact entered at checkout. Note is optional.
type Contact struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Address  string `json:"address" validate:"required"`
	Note     string `json:"note"`
}

// Prefill returns the contact fields known from the stored identity.
func Prefill(id session.Identity) Contact {
	return Contact{
		FullName: id.FullName,
		Email:    id.Email,
		Phone:    id.Phone,
		Address:  id.Address,
	}
}

// Line is an order line with the price at the time of ordering.
type Line struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Payload is the order submission.
type Payload struct {
	IdempotencyKey string
	Contact        Contact
	PaymentMethod  PaymentMethod
	Lines          []Line
	Pricing        pricing.Snapshot
	CouponCode     string
}

// Receipt is the backend confirmation of a submitted order.
type Receipt struct {
	OrderID     string
	Status      string
	TotalAmount decimal.Decimal
	// Replayed is set when the backend returned an order placed earlier with
	// the same idempotency key.
	Replayed bool
	// StaleCart is set when the cart changed while the order was in flight.
	// The order exists but the cart was left untouched.
	StaleCart bool
}

// Submitter places orders with the backend.
type Submitter interface {
	PlaceOrder(ctx context.Context, p *Payload) (*Receipt, error)
}

// Cart is the cart state the reconciler reads and clears.
type Cart interface {
	Items() []cart.LineItem
	Version() uint64
	Clear(ctx context.Context) error
}

// Coupons is the applied coupon state.
type Coupons interface {
	Current() *coupon.Applied
	NeedsRevalidation(orderAmount decimal.Decimal) bool
	Revalidate(ctx context.Context, orderAmount decimal.Decimal) (*coupon.Applied, error)
	Remove(ctx context.Context) error
}

// Review is what the customer confirms before submitting.
type Review struct {
	Items    []cart.LineItem
	Snapshot pricing.Snapshot
	Coupon   *coupon.Applied
	// CouponDropped holds the backend reason when the applied coupon was
	// rejected on revalidation and removed.
	CouponDropped string
}
