package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

// DefaultStockLimit bounds Increment for items that carry no stock limit.
const DefaultStockLimit = 999

var (
	// ErrItemNotFound is returned when an operation targets a product that is
	// not in the cart.
	ErrItemNotFound = errors.New("item not in cart")
	// ErrInvalidItem is returned when a product has no id or a negative price.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrInvalidQuantity is returned for quantities below the allowed minimum.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrStockLimit is returned when an increment would exceed the stock limit.
	ErrStockLimit = errors.New("stock limit reached")
	// ErrConfirmationRequired is returned when a change would remove an item
	// and no confirmation callback was supplied.
	ErrConfirmationRequired = errors.New("removal requires confirmation")
)

// LineItem is one product entry in the cart.
type LineItem struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	ImageRef  string
	// StockLimit is an optional upper bound for Quantity. Zero means unknown.
	StockLimit int
}

// Line returns the priced view of the item.
func (li LineItem) Line() pricing.Line {
	return pricing.Line{UnitPrice: li.UnitPrice, Quantity: li.Quantity}
}

// LineTotal returns unit price times quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (li LineItem) limit() int {
	if li.StockLimit > 0 {
		return li.StockLimit
	}
	return DefaultStockLimit
}

func (li LineItem) validate() error {
	if li.ID == "" {
		return errors.Wrap(ErrInvalidItem, "empty product id")
	}
	if li.UnitPrice.IsNegative() {
		return errors.Wrapf(ErrInvalidItem, "negative price for product %s", li.ID)
	}
	return nil
}

// Lines converts items for the pricing calculator.
func Lines(items []LineItem) []pricing.Line {
	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = it.Line()
	}
	return lines
}

// Select returns the items whose ids are in ids, preserving cart order. An
// empty ids selects everything.
func Select(items []LineItem, ids ...string) []LineItem {
	if len(ids) == 0 {
		return items
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]LineItem, 0, len(ids))
	for _, it := range items {
		if _, ok := want[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}
