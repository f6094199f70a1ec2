// Package redistest provides an in-memory RedisClient for tests.
package redistest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
)

type item struct {
	value   string
	expires time.Time
}

type Fake struct {
	mu   sync.Mutex
	data map[string]item
	now  func() time.Time
}

var _ redis.RedisClient = (*Fake)(nil)

func New() *Fake {
	return &Fake{data: make(map[string]item), now: time.Now}
}

func (f *Fake) get(key string) (item, bool) {
	it, ok := f.data[key]
	if ok && !it.expires.IsZero() && f.now().After(it.expires) {
		delete(f.data, key)
		return item{}, false
	}
	return it, ok
}

func (f *Fake) put(key string, value interface{}, expiration time.Duration) {
	it := item{value: fmt.Sprint(value)}
	if expiration > 0 {
		it.expires = f.now().Add(expiration)
	}
	f.data[key] = it
}

func (f *Fake) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.get(key)
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return it.value, nil
}

func (f *Fake) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(key, value, expiration)
	return nil
}

func (f *Fake) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.get(key); ok {
		return false, nil
	}
	f.put(key, value, expiration)
	return true, nil
}

func (f *Fake) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *Fake) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.get(key)
	if !ok || it.value != value {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *Fake) Close() error { return nil }

// Has reports whether key is currently set.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.get(key)
	return ok
}
