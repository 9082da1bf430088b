// Package kv defines the persistence boundary shared by the cart, coupon and
// session state: durable key-value slots plus a change feed that lets other
// open views observe writes.
package kv

import (
	"context"

	"github.com/go-faster/errors"
)

// Well-known slot keys.
const (
	KeyCart   = "cart"
	KeyCoupon = "coupon"
	KeyUser   = "user"
)

// ErrNotFound is returned by Store.Get when the key holds no value.
var ErrNotFound = errors.New("key not found")

// Store is a durable slot store. Values are opaque JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Change announces that a key was written or deleted.
type Change struct {
	Key string `json:"key"`
	// Origin identifies the writer so it can ignore its own announcements.
	Origin string `json:"origin"`
}

// Feed broadcasts changes to every subscriber, including other processes.
// Delivery is best-effort and last-writer-wins.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe invokes fn for every change until ctx is done.
	Subscribe(ctx context.Context, fn func(Change)) error
}
