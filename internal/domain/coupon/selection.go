package coupon

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
)

// Selection holds the single coupon applied to a cart and persists it under
// the coupon key.
type Selection struct {
	slots     kv.Store
	feed      kv.Feed
	key       string
	origin    string
	validator Validator
	lg        *zap.Logger

	mu      sync.Mutex
	current *Applied
	// seq changes whenever the selection changes or a validation starts, so
	// replies to superseded requests can be recognized.
	seq uint64
}

// SelectionOption configures a Selection.
type SelectionOption func(*Selection)

// WithSelectionFeed announces changes on f.
func WithSelectionFeed(f kv.Feed) SelectionOption {
	return func(s *Selection) { s.feed = f }
}

// WithSelectionKey overrides the slot key.
func WithSelectionKey(key string) SelectionOption {
	return func(s *Selection) { s.key = key }
}

// WithSelectionLogger sets the logger.
func WithSelectionLogger(lg *zap.Logger) SelectionOption {
	return func(s *Selection) { s.lg = lg }
}

// OpenSelection loads the persisted coupon. A corrupt document means no
// coupon.
func OpenSelection(ctx context.Context, slots kv.Store, v Validator, opts ...SelectionOption) (*Selection, error) {
	s := &Selection{
		slots:     slots,
		key:       kv.KeyCoupon,
		origin:    uuid.NewString(),
		validator: v,
		lg:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	cur, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.current = cur
	return s, nil
}

func (s *Selection) load(ctx context.Context) (*Applied, error) {
	data, err := s.slots.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load coupon")
	}
	a, err := decodeApplied(data)
	if err != nil {
		s.lg.Warn("Discarding corrupt coupon", zap.String("key", s.key), zap.Error(err))
		return nil, nil
	}
	return a, nil
}

// Current returns a copy of the applied coupon, or nil.
func (s *Selection) Current() *Applied {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyApplied(s.current)
}

// Version returns a tag that changes whenever the selection changes.
func (s *Selection) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Discount returns the server-confirmed discount, zero without a coupon.
func (s *Selection) Discount() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return decimal.Zero
	}
	return s.current.Discount
}

// Apply validates code against orderAmount and, on success, stores the
// backend reply verbatim. Only one coupon may be applied at a time.
func (s *Selection) Apply(ctx context.Context, code string, orderAmount decimal.Decimal) (*Applied, error) {
	code = Canonical(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	s.mu.Lock()
	if s.current != nil {
		applied := s.current.Code
		s.mu.Unlock()
		if applied == code {
			return nil, errors.Wrap(ErrAlreadyApplied, code)
		}
		return nil, errors.Wrapf(ErrCouponInUse, "remove %s first", applied)
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	a, err := s.validator.Validate(ctx, code, orderAmount)
	if err != nil {
		return nil, err
	}
	if a.Code == "" {
		a.Code = code
	}
	a.OrderAmount = orderAmount

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq || s.current != nil {
		return nil, ErrStale
	}
	s.seq++
	s.current = a
	if err := s.persistLocked(ctx); err != nil {
		return copyApplied(a), err
	}
	return copyApplied(a), nil
}

// Remove drops the applied coupon.
func (s *Selection) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.current == nil {
		return nil
	}
	s.current = nil
	return s.persistLocked(ctx)
}

// Drop implements cart.Dropper.
func (s *Selection) Drop(ctx context.Context) error {
	return s.Remove(ctx)
}

// NeedsRevalidation reports whether the applied coupon was validated for a
// different order amount.
func (s *Selection) NeedsRevalidation(orderAmount decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.OrderAmount.Equal(orderAmount)
}

// Revalidate checks the applied coupon again when the order amount changed.
// A rejection removes the coupon and returns the backend reason; transient
// failures keep it and return a retryable error.
func (s *Selection) Revalidate(ctx context.Context, orderAmount decimal.Decimal) (*Applied, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, nil
	}
	if s.current.OrderAmount.Equal(orderAmount) {
		cur := copyApplied(s.current)
		s.mu.Unlock()
		return cur, nil
	}
	code := s.current.Code
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	a, err := s.validator.Validate(ctx, code, orderAmount)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return nil, ErrStale
	}
	if err != nil {
		if _, rejected := remote.Reason(err); rejected {
			s.seq++
			s.current = nil
			if pErr := s.persistLocked(ctx); pErr != nil {
				s.lg.Warn("Persist coupon removal", zap.Error(pErr))
			}
		}
		return nil, err
	}
	if a.Code == "" {
		a.Code = code
	}
	a.OrderAmount = orderAmount
	s.seq++
	s.current = a
	if err := s.persistLocked(ctx); err != nil {
		return copyApplied(a), err
	}
	return copyApplied(a), nil
}

// Refresh reloads the persisted coupon written by another view.
func (s *Selection) Refresh(ctx context.Context) error {
	cur, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.seq++
	s.current = cur
	s.mu.Unlock()
	return nil
}

// Sync applies coupon changes announced by other views until ctx is done.
func (s *Selection) Sync(ctx context.Context) error {
	if s.feed == nil {
		return errors.New("coupon selection has no change feed")
	}
	return s.feed.Subscribe(ctx, func(c kv.Change) {
		if c.Key != s.key || c.Origin == s.origin {
			return
		}
		if err := s.Refresh(ctx); err != nil {
			s.lg.Warn("Refresh coupon", zap.Error(err))
		}
	})
}

func (s *Selection) persistLocked(ctx context.Context) error {
	var err error
	if s.current == nil {
		err = s.slots.Delete(ctx, s.key)
	} else {
		err = s.slots.Set(ctx, s.key, encodeApplied(s.current))
	}
	if err != nil {
		return errors.Wrap(err, "persist coupon")
	}
	if s.feed != nil {
		if err := s.feed.Publish(ctx, kv.Change{Key: s.key, Origin: s.origin}); err != nil {
			s.lg.Warn("Announce coupon change", zap.Error(err))
		}
	}
	return nil
}

func copyApplied(a *Applied) *Applied {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
