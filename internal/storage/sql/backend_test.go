package sql_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/pkce-session-manager/internal/dbtest/postgrestest"
	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/session"
	"github.com/openkcm/pkce-session-manager/internal/storage"
	storagesql "github.com/openkcm/pkce-session-manager/internal/storage/sql"
)

func TestBackend(t *testing.T) {
	ctx := t.Context()
	db, _, terminate := postgrestest.Start(ctx)
	defer terminate(ctx)

	b := storagesql.NewBackend(db)

	t.Run("absent key", func(t *testing.T) {
		_, err := b.Get(ctx, "absent")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("upsert and delete", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k1", []byte("v1"), 0))
		require.NoError(t, b.Set(ctx, "k1", []byte("v2"), time.Hour))
		require.NoError(t, b.Set(ctx, "k2", []byte("v3"), 0))

		got, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		require.NoError(t, b.Delete(ctx, "k1", "k2", "absent"))

		_, err = b.Get(ctx, "k1")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
		_, err = b.Get(ctx, "k2")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("take removes the row", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "proof", []byte("v"), time.Hour))

		got, err := b.Take(ctx, "proof")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		_, err = b.Take(ctx, "proof")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
		_, err = b.Get(ctx, "proof")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("take of an expired row", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "stale", []byte("v"), time.Millisecond))
		time.Sleep(20 * time.Millisecond)

		_, err := b.Take(ctx, "stale")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("concurrent takes have one winner", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contested", []byte("v"), time.Hour))

		var wg sync.WaitGroup
		wins := make(chan struct{}, 8)
		for range 8 {
			wg.Go(func() {
				if _, err := b.Take(ctx, "contested"); err == nil {
					wins <- struct{}{}
				}
			})
		}
		wg.Wait()
		close(wins)

		assert.Len(t, wins, 1)
	})

	t.Run("expired rows are hidden and purged", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "short", []byte("v"), time.Millisecond))
		require.NoError(t, b.Set(ctx, "long", []byte("v"), time.Hour))
		time.Sleep(20 * time.Millisecond)

		_, err := b.Get(ctx, "short")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)

		n, err := b.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = b.Get(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("unavailable database is not an absent record", func(t *testing.T) {
		repo := storage.NewRepository(b, "pkce")
		scope := session.Scope{Tenant: "student", Agent: "agent-1"}

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := repo.LoadToken(cancelled, scope)
		assert.ErrorIs(t, err, serviceerr.ErrUnavailable)
		assert.NotErrorIs(t, err, serviceerr.ErrNotFound)
	})
}
