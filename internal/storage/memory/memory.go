// Package memory provides in-process implementations of the kv slot store
// and change feed. Several stores opened on the same Store and Feed behave
// like browser tabs sharing one local storage.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
)

var (
	_ kv.Store = (*Store)(nil)
	_ kv.Feed  = (*Feed)(nil)
)

// Store is a map-backed kv.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: map[string][]byte{}}
}

// Get returns a copy of the value under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return slices.Clone(v), nil
}

// Set stores a copy of value under key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = slices.Clone(value)
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Feed fans changes out to in-process subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan kv.Change
	nextID int
}

// NewFeed returns a Feed without subscribers.
func NewFeed() *Feed {
	return &Feed{subs: map[int]chan kv.Change{}}
}

// Publish delivers c to every subscriber. It blocks while a subscriber's
// buffer is full, until ctx is done.
func (f *Feed) Publish(ctx context.Context, c kv.Change) error {
	f.mu.Lock()
	chans := make([]chan kv.Change, 0, len(f.subs))
	for _, ch := range f.subs {
		chans = append(chans, ch)
	}
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe calls fn for each published change until ctx is done.
func (f *Feed) Subscribe(ctx context.Context, fn func(kv.Change)) error {
	ch := make(chan kv.Change, 64)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ch:
			fn(c)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
