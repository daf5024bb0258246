// Package valkey is a storage backend shared by all replicas through ValKey.
package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

type Backend struct {
	client valkey.Client
}

func NewBackend(client valkey.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	return b.bytes(ctx, b.client.B().Get().Key(key).Build(), "get")
}

// Take uses GETDEL, which the server executes atomically.
func (b *Backend) Take(ctx context.Context, key string) ([]byte, error) {
	return b.bytes(ctx, b.client.B().Getdel().Key(key).Build(), "getdel")
}

func (b *Backend) bytes(ctx context.Context, cmd valkey.Completed, name string) ([]byte, error) {
	data, err := b.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		valkeyErr, ok := valkey.IsValkeyErr(err)
		if ok && valkeyErr.IsNil() {
			return nil, serviceerr.ErrNotFound
		}

		return nil, fmt.Errorf("executing %s command: %w", name, err)
	}

	return data, nil
}

// Set stores value with a millisecond precision expiry when ttl is positive.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := b.client.B().Set().Key(key).Value(valkey.BinaryString(value))

	var cmd valkey.Completed
	if ms := ttl.Milliseconds(); ms > 0 {
		cmd = set.PxMilliseconds(ms).Build()
	} else {
		cmd = set.Build()
	}

	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := b.client.Do(ctx, b.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}
