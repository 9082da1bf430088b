// Package session keeps the signed-in customer's identity in the user slot.
// The identity prefills checkout contact fields and names the customer on
// backend calls; signing in itself happens elsewhere.
package session

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
	"github.com/xenking/leafsense-cart/internal/jsonx"
)

// Identity is the persisted customer profile.
type Identity struct {
	CustomerID string
	FullName   string
	Email      string
	Phone      string
	Address    string
}

// Anonymous reports whether no customer is signed in.
func (i Identity) Anonymous() bool {
	return i.CustomerID == ""
}

// Store reads and writes the identity slot.
type Store struct {
	slots kv.Store
	key   string
	lg    *zap.Logger
}

// New creates a Store on slots.
func New(slots kv.Store, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Store{slots: slots, key: kv.KeyUser, lg: lg}
}

// Load returns the stored identity. A missing or corrupt slot yields the
// anonymous identity.
func (s *Store) Load(ctx context.Context) (Identity, error) {
	data, err := s.slots.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, errors.Wrap(err, "load identity")
	}
	id, err := decodeIdentity(data)
	if err != nil {
		s.lg.Warn("Discarding corrupt identity", zap.Error(err))
		return Identity{}, nil
	}
	return id, nil
}

// Save persists id.
func (s *Store) Save(ctx context.Context, id Identity) error {
	if id.Anonymous() {
		return errors.New("identity without customer id")
	}
	if err := s.slots.Set(ctx, s.key, encodeIdentity(id)); err != nil {
		return errors.Wrap(err, "save identity")
	}
	return nil
}

// Forget removes the stored identity.
func (s *Store) Forget(ctx context.Context) error {
	if err := s.slots.Delete(ctx, s.key); err != nil {
		return errors.Wrap(err, "forget identity")
	}
	return nil
}

func encodeIdentity(id Identity) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(id.CustomerID) })
		e.Field("full_name", func(e *jx.Encoder) { e.Str(id.FullName) })
		e.Field("email", func(e *jx.Encoder) { e.Str(id.Email) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(id.Phone) })
		e.Field("address", func(e *jx.Encoder) { e.Str(id.Address) })
	})
	return e.Bytes()
}

func decodeIdentity(data []byte) (Identity, error) {
	var id Identity
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id", "customer_id":
			id.CustomerID, err = jsonx.Text(d)
		case "full_name":
			id.FullName, err = jsonx.Text(d)
		case "email":
			id.Email, err = jsonx.Text(d)
		case "phone":
			id.Phone, err = jsonx.Text(d)
		case "address":
			id.Address, err = jsonx.Text(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	})
	if err != nil {
		return Identity{}, errors.Wrap(err, "decode identity")
	}
	return id, nil
}
