package memory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/storage/memory"
)

func TestBackend(t *testing.T) {
	ctx := t.Context()
	b := memory.NewBackend()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	value := []byte("value")
	require.NoError(t, b.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got, "stored bytes are copied")

	require.NoError(t, b.Delete(ctx, "k", "missing"))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestBackend_Take(t *testing.T) {
	ctx := t.Context()
	b := memory.NewBackend()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))

	var wg sync.WaitGroup
	wins := make(chan []byte, 16)
	for range 16 {
		wg.Go(func() {
			if got, err := b.Take(ctx, "k"); err == nil {
				wins <- got
			} else {
				assert.ErrorIs(t, err, serviceerr.ErrNotFound)
			}
		})
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1)
	assert.Equal(t, []byte("v"), <-wins)

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestBackend_Expiry(t *testing.T) {
	ctx := t.Context()
	b := memory.NewBackend()

	require.NoError(t, b.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, b.Set(ctx, "long", []byte("v"), time.Hour))

	time.Sleep(30 * time.Millisecond)

	_, err := b.Get(ctx, "short")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	n, err := b.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Get(ctx, "long")
	assert.NoError(t, err)
}
