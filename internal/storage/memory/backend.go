// Package memory is a process local storage backend. Records do not survive
// a restart and are not shared between replicas.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

const cleanupInterval = 10 * time.Minute

type Backend struct {
	cache *cache.Cache
	// takeMu makes a lookup and delete pair of Take one step.
	takeMu sync.Mutex
}

func NewBackend() *Backend {
	return &Backend{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, serviceerr.ErrNotFound
	}

	data, ok := v.([]byte)
	if !ok {
		return nil, serviceerr.ErrNotFound
	}

	return slices.Clone(data), nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	b.cache.Set(key, slices.Clone(value), ttl)

	return nil
}

func (b *Backend) Take(ctx context.Context, key string) ([]byte, error) {
	b.takeMu.Lock()
	defer b.takeMu.Unlock()

	data, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	b.cache.Delete(key)

	return data, nil
}

func (b *Backend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		b.cache.Delete(k)
	}

	return nil
}

// PurgeExpired drops expired items. go-cache also does this on its own
// cleanup interval.
func (b *Backend) PurgeExpired(_ context.Context) (int, error) {
	before := b.cache.ItemCount()
	b.cache.DeleteExpired()

	return max(before-b.cache.ItemCount(), 0), nil
}
