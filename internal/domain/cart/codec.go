package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/leafsense-cart/internal/jsonx"
)

// encodeItems writes items in the layout the web client keeps in local
// storage: an array of {id, name, price, quantity, image, stock}.
func encodeItems(items []LineItem) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
				e.Field("price", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, it.UnitPrice) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				if it.ImageRef != "" {
					e.Field("image", func(e *jx.Encoder) { e.Str(it.ImageRef) })
				}
				if it.StockLimit > 0 {
					e.Field("stock", func(e *jx.Encoder) { e.Int(it.StockLimit) })
				}
			})
		}
	})
	return e.Bytes()
}

// decodeItems parses a persisted cart. Entries without an id or with a
// non-positive quantity are dropped and duplicate ids are merged.
func decodeItems(data []byte) ([]LineItem, error) {
	var (
		items []LineItem
		index = map[string]int{}
	)
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		var it LineItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				it.ID, err = jsonx.Text(d)
			case "name":
				it.Name, err = jsonx.Text(d)
			case "image":
				it.ImageRef, err = jsonx.Text(d)
			case "price":
				it.UnitPrice, err = jsonx.Decimal(d)
			case "quantity":
				it.Quantity, err = jsonx.Int(d)
			case "stock":
				it.StockLimit, err = jsonx.Int(d)
			default:
				return d.Skip()
			}
			return jsonx.Field(key, err)
		}); err != nil {
			return err
		}
		if it.ID == "" || it.Quantity < 1 || it.UnitPrice.IsNegative() {
			return nil
		}
		if i, ok := index[it.ID]; ok {
			items[i].Quantity += it.Quantity
			return nil
		}
		index[it.ID] = len(items)
		items = append(items, it)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return items, nil
}
