// Package redis implements the kv slot store, the change feed and the order
// idempotency guard on Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
	"github.com/xenking/leafsense-cart/internal/domain/order"
)

// Prefix namespaces every key written by this package.
const Prefix = "leafsense"

var (
	_ kv.Store    = (*Slots)(nil)
	_ kv.Feed     = (*Feed)(nil)
	_ order.Guard = (*Guard)(nil)
)

// Connect parses url, connects and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// Slots stores the slots of one session under leafsense:<session>:<key>.
type Slots struct {
	client  goredis.UniversalClient
	session string
}

// NewSlots returns the slot store of session.
func NewSlots(client goredis.UniversalClient, session string) *Slots {
	return &Slots{client: client, session: session}
}

func (s *Slots) key(k string) string {
	return Prefix + ":" + s.session + ":" + k
}

// Get implements kv.Store.
func (s *Slots) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

// Set implements kv.Store. Slots do not expire.
func (s *Slots) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Slots) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// Feed announces slot changes of one session over pub/sub.
type Feed struct {
	client  goredis.UniversalClient
	channel string
	lg      *zap.Logger
}

// NewFeed returns the change feed of session.
func NewFeed(client goredis.UniversalClient, session string, lg *zap.Logger) *Feed {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Feed{
		client:  client,
		channel: Prefix + ":" + session + ":changes",
		lg:      lg,
	}
}

// Publish implements kv.Feed.
func (f *Feed) Publish(ctx context.Context, c kv.Change) error {
	if err := f.client.Publish(ctx, f.channel, encodeChange(c)).Err(); err != nil {
		return errors.Wrap(err, "publish change")
	}
	return nil
}

// Subscribe implements kv.Feed. Changes published before the subscription
// is confirmed are missed. It returns ctx.Err() once ctx is done.
func (f *Feed) Subscribe(ctx context.Context, fn func(kv.Change)) error {
	ps := f.client.Subscribe(ctx, f.channel)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			c, err := decodeChange([]byte(msg.Payload))
			if err != nil {
				f.lg.Warn("Skipping malformed change", zap.Error(err))
				continue
			}
			fn(c)
		}
	}
}

func encodeChange(c kv.Change) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("key", func(e *jx.Encoder) { e.Str(c.Key) })
		e.Field("origin", func(e *jx.Encoder) { e.Str(c.Origin) })
	})
	return e.Bytes()
}

func decodeChange(data []byte) (kv.Change, error) {
	var c kv.Change
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "key":
			c.Key, err = d.Str()
		case "origin":
			c.Origin, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return kv.Change{}, errors.Wrap(err, "decode change")
	}
	if c.Key == "" {
		return kv.Change{}, errors.New("change without key")
	}
	return c, nil
}

// DefaultGuardTTL bounds how long a crashed holder blocks a key.
const DefaultGuardTTL = 30 * time.Second

// Guard reserves idempotency keys with SET NX.
type Guard struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewGuard returns a Guard whose reservations expire after ttl, or
// DefaultGuardTTL when ttl is zero.
func NewGuard(client goredis.UniversalClient, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &Guard{client: client, ttl: ttl}
}

func guardKey(key string) string {
	return Prefix + ":idempotency:" + key
}

// Reserve implements order.Guard.
func (g *Guard) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardKey(key), "1", g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "reserve key")
	}
	return ok, nil
}

// Release implements order.Guard.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, guardKey(key)).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}
