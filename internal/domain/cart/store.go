// Package cart implements the cart store: the single writer of cart line
// items. State lives in a kv slot and changes made by other views arrive
// through the kv change feed.
package cart

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
)

// Event describes the cart after a change.
type Event struct {
	Items   []LineItem
	Version uint64
	// Remote is set when the change was made by another view.
	Remote bool
}

// Listener observes cart changes.
type Listener func(Event)

// ConfirmFunc is asked before an item is removed by a quantity change.
// Returning false keeps the item.
type ConfirmFunc func(item LineItem) bool

// Dropper is state tied to the cart that must go away when the cart is
// cleared, such as the applied coupon.
type Dropper interface {
	Drop(ctx context.Context) error
}

// Option configures a Store.
type Option func(*Store)

// WithFeed enables cross-view change propagation.
func WithFeed(f kv.Feed) Option {
	return func(s *Store) { s.feed = f }
}

// WithKey overrides the slot key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Store) { s.lg = lg }
}

// WithLinked registers state to drop on Clear.
func WithLinked(d Dropper) Option {
	return func(s *Store) { s.linked = append(s.linked, d) }
}

// Store holds the cart line items of one session.
type Store struct {
	slots  kv.Store
	feed   kv.Feed
	key    string
	origin string
	linked []Dropper
	lg     *zap.Logger

	mu      sync.Mutex
	items   []LineItem
	raw     []byte
	version uint64

	lmu       sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

// Open creates a Store and loads the persisted cart. A corrupt document
// yields an empty cart.
func Open(ctx context.Context, slots kv.Store, opts ...Option) (*Store, error) {
	s := &Store{
		slots:     slots,
		key:       kv.KeyCart,
		origin:    uuid.NewString(),
		lg:        zap.NewNop(),
		listeners: map[uint64]Listener{},
	}
	for _, o := range opts {
		o(s)
	}

	items, raw, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.items = items
	s.raw = raw
	return s, nil
}

// Origin identifies this store on the change feed.
func (s *Store) Origin() string { return s.origin }

// Key returns the slot key the cart is persisted under.
func (s *Store) Key() string { return s.key }

func (s *Store) load(ctx context.Context) ([]LineItem, []byte, error) {
	data, err := s.slots.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "load cart")
	}
	items, err := decodeItems(data)
	if err != nil {
		s.lg.Warn("Discarding corrupt cart", zap.String("key", s.key), zap.Error(err))
		return nil, data, nil
	}
	return items, data, nil
}

// Items returns a copy of the current line items in insertion order.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Version returns a tag that changes on every cart change.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Len returns the number of distinct products in the cart.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Add adds one unit of product.
func (s *Store) Add(ctx context.Context, product LineItem) error {
	return s.AddItem(ctx, product, 1)
}

// AddItem inserts product with qty units, or adds qty to the existing line.
// Stock limits are the caller's concern here.
func (s *Store) AddItem(ctx context.Context, product LineItem, qty int) error {
	if err := product.validate(); err != nil {
		return err
	}
	if qty < 1 {
		return errors.Wrapf(ErrInvalidQuantity, "add %d of %s", qty, product.ID)
	}
	return s.mutate(ctx, func(items []LineItem) ([]LineItem, error) {
		if i := indexOf(items, product.ID); i >= 0 {
			items[i].Quantity += qty
			return items, nil
		}
		product.Quantity = qty
		return append(items, product), nil
	})
}

// RemoveItem deletes the line for id.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []LineItem) ([]LineItem, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, errors.Wrap(ErrItemNotFound, id)
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Increment adds one unit, bounded by the item's stock limit.
func (s *Store) Increment(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []LineItem) ([]LineItem, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, errors.Wrap(ErrItemNotFound, id)
		}
		if items[i].Quantity >= items[i].limit() {
			return nil, errors.Wrapf(ErrStockLimit, "%s at %d", id, items[i].Quantity)
		}
		items[i].Quantity++
		return items, nil
	})
}

// Decrement removes one unit. Taking the last unit removes the line and
// needs confirm to agree.
func (s *Store) Decrement(ctx context.Context, id string, confirm ConfirmFunc) error {
	return s.mutate(ctx, func(items []LineItem) ([]LineItem, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, errors.Wrap(ErrItemNotFound, id)
		}
		return setQuantity(items, i, items[i].Quantity-1, confirm)
	})
}

// SetQuantity sets the quantity of id. Zero removes the line and needs
// confirm to agree.
func (s *Store) SetQuantity(ctx context.Context, id string, qty int, confirm ConfirmFunc) error {
	if qty < 0 {
		return errors.Wrapf(ErrInvalidQuantity, "set %d of %s", qty, id)
	}
	return s.mutate(ctx, func(items []LineItem) ([]LineItem, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, errors.Wrap(ErrItemNotFound, id)
		}
		return setQuantity(items, i, qty, confirm)
	})
}

func setQuantity(items []LineItem, i, qty int, confirm ConfirmFunc) ([]LineItem, error) {
	if qty >= 1 {
		if items[i].Quantity == qty {
			return nil, errUnchanged
		}
		items[i].Quantity = qty
		return items, nil
	}
	if confirm == nil {
		return nil, errors.Wrap(ErrConfirmationRequired, items[i].ID)
	}
	if !confirm(items[i]) {
		return nil, errUnchanged
	}
	return slices.Delete(items, i, i+1), nil
}

// Clear empties the cart and drops linked state such as the applied coupon.
func (s *Store) Clear(ctx context.Context) error {
	err := s.mutate(ctx, func([]LineItem) ([]LineItem, error) {
		return []LineItem{}, nil
	})
	for _, d := range s.linked {
		if dErr := d.Drop(ctx); dErr != nil {
			err = errors.Join(err, errors.Wrap(dErr, "drop linked state"))
		}
	}
	return err
}

// Refresh reloads the persisted cart and notifies listeners if it differs
// from the in-memory copy.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	items, raw, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if bytes.Equal(raw, s.raw) {
		s.mu.Unlock()
		return nil
	}
	s.items = items
	s.raw = raw
	s.version++
	ev := s.eventLocked(true)
	s.mu.Unlock()

	s.notify(ev)
	return nil
}

// Sync applies changes announced by other views until ctx is done.
// The last write wins; there is no merging.
func (s *Store) Sync(ctx context.Context) error {
	if s.feed == nil {
		return errors.New("cart store has no change feed")
	}
	return s.feed.Subscribe(ctx, func(c kv.Change) {
		if c.Key != s.key || c.Origin == s.origin {
			return
		}
		if err := s.Refresh(ctx); err != nil {
			s.lg.Warn("Refresh cart", zap.Error(err))
		}
	})
}

// OnChange registers l and returns a function that unregisters it.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

var errUnchanged = errors.New("unchanged")

// mutate applies fn to a copy of the items, persists the result and
// notifies listeners. Persisting happens under the lock so writes reach the
// slot in call order.
func (s *Store) mutate(ctx context.Context, fn func([]LineItem) ([]LineItem, error)) error {
	s.mu.Lock()
	next, err := fn(slices.Clone(s.items))
	if errors.Is(err, errUnchanged) {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.items = next
	s.version++
	ev := s.eventLocked(false)
	persistErr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return persistErr
}

func (s *Store) persistLocked(ctx context.Context) error {
	if len(s.items) == 0 {
		s.raw = nil
		if err := s.slots.Delete(ctx, s.key); err != nil {
			return errors.Wrap(err, "persist cart")
		}
	} else {
		s.raw = encodeItems(s.items)
		if err := s.slots.Set(ctx, s.key, s.raw); err != nil {
			return errors.Wrap(err, "persist cart")
		}
	}
	if s.feed != nil {
		if err := s.feed.Publish(ctx, kv.Change{Key: s.key, Origin: s.origin}); err != nil {
			s.lg.Warn("Announce cart change", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) eventLocked(remote bool) Event {
	return Event{Items: slices.Clone(s.items), Version: s.version, Remote: remote}
}

func (s *Store) notify(ev Event) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

func indexOf(items []LineItem, id string) int {
	return slices.IndexFunc(items, func(it LineItem) bool { return it.ID == id })
}
