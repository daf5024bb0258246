package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/session"
	"github.com/openkcm/pkce-session-manager/internal/storage"
	"github.com/openkcm/pkce-session-manager/internal/storage/memory"
)

var (
	errBackend = errors.New("connection refused")
	now        = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	scope      = session.Scope{Tenant: "student", Agent: "agent-1"}
)

// recordingBackend records the ttl of every Set and can fail on demand.
type recordingBackend struct {
	storage.Backend

	mu      sync.Mutex
	ttls    map[string]time.Duration
	deleted []string
	err     error
	corrupt bool
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Backend: memory.NewBackend(), ttls: map[string]time.Duration{}}
}

func (b *recordingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.corrupt {
		return []byte("{"), nil
	}
	return b.Backend.Get(ctx, key)
}

func (b *recordingBackend) Take(ctx context.Context, key string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.Backend.Take(ctx, key)
}

func (b *recordingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	b.ttls[key] = ttl
	b.mu.Unlock()
	return b.Backend.Set(ctx, key, value, ttl)
}

func (b *recordingBackend) Delete(ctx context.Context, keys ...string) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	b.deleted = append(b.deleted, keys...)
	b.mu.Unlock()
	return b.Backend.Delete(ctx, keys...)
}

func newRepository(b storage.Backend) *storage.Repository {
	return storage.NewRepository(b, "pkce:", storage.WithTokenTTL(24*time.Hour), storage.WithClock(func() time.Time { return now }))
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := t.Context()
	repo := newRepository(newRecordingBackend())

	_, err := repo.LoadProof(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	_, err = repo.LoadToken(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	proof := session.Proof{Verifier: "v", State: "s", Expiry: now.Add(10 * time.Minute)}
	require.NoError(t, repo.StoreProof(ctx, scope, proof))

	token := session.TokenRecord{AccessToken: "A", IDToken: "I", RefreshToken: "R", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.StoreToken(ctx, scope, token))

	gotProof, err := repo.LoadProof(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, proof, gotProof)

	gotToken, err := repo.LoadToken(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, token, gotToken)

	other := session.Scope{Tenant: "educator", Agent: "agent-1"}
	_, err = repo.LoadToken(ctx, other)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "records are scoped per tenant")

	require.NoError(t, repo.DeleteProof(ctx, scope))
	require.NoError(t, repo.DeleteToken(ctx, scope))

	_, err = repo.LoadProof(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	_, err = repo.LoadToken(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestRepository_TakeProof(t *testing.T) {
	ctx := t.Context()
	repo := newRepository(newRecordingBackend())

	_, err := repo.TakeProof(ctx, scope)
	require.ErrorIs(t, err, serviceerr.ErrNotFound)

	proof := session.Proof{Verifier: "v", State: "s", Expiry: now.Add(10 * time.Minute)}
	require.NoError(t, repo.StoreProof(ctx, scope, proof))

	got, err := repo.TakeProof(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, proof, got)

	_, err = repo.TakeProof(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "proof material is single use")
	_, err = repo.LoadProof(ctx, scope)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestRepository_TakeProofIsExclusive(t *testing.T) {
	ctx := t.Context()
	backend := memory.NewBackend()

	// two repositories over one backend stand in for two replicas
	replicas := []*storage.Repository{newRepository(backend), newRepository(backend)}
	require.NoError(t, replicas[0].StoreProof(ctx, scope, session.Proof{Verifier: "v", State: "s"}))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	start := make(chan struct{})
	for i := range 32 {
		wg.Go(func() {
			<-start
			_, err := replicas[i%2].TakeProof(ctx, scope)
			if err == nil {
				mu.Lock()
				taken++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, serviceerr.ErrNotFound)
		})
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, taken)
}

func TestRepository_TTL(t *testing.T) {
	tests := []struct {
		name        string
		store       func(*storage.Repository) error
		key         string
		wantTTL     time.Duration
		wantDeleted bool
	}{
		{
			name: "proof expires with the login attempt",
			store: func(r *storage.Repository) error {
				return r.StoreProof(t.Context(), scope, session.Proof{Verifier: "v", State: "s", Expiry: now.Add(10 * time.Minute)})
			},
			key:     "pkce:student:agent-1:proof",
			wantTTL: 10 * time.Minute,
		},
		{
			name: "proof without expiry",
			store: func(r *storage.Repository) error {
				return r.StoreProof(t.Context(), scope, session.Proof{Verifier: "v", State: "s"})
			},
			key: "pkce:student:agent-1:proof",
		},
		{
			name: "elapsed proof is removed",
			store: func(r *storage.Repository) error {
				return r.StoreProof(t.Context(), scope, session.Proof{Verifier: "v", State: "s", Expiry: now})
			},
			key:         "pkce:student:agent-1:proof",
			wantDeleted: true,
		},
		{
			name: "token with refresh token is kept for the token ttl",
			store: func(r *storage.Repository) error {
				return r.StoreToken(t.Context(), scope, session.TokenRecord{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(time.Hour)})
			},
			key:     "pkce:student:agent-1:token",
			wantTTL: 24 * time.Hour,
		},
		{
			name: "token without refresh token expires with the access token",
			store: func(r *storage.Repository) error {
				return r.StoreToken(t.Context(), scope, session.TokenRecord{AccessToken: "A", ExpiresAt: now.Add(time.Hour)})
			},
			key:     "pkce:student:agent-1:token",
			wantTTL: time.Hour,
		},
		{
			name: "expired token without refresh token is removed",
			store: func(r *storage.Repository) error {
				return r.StoreToken(t.Context(), scope, session.TokenRecord{AccessToken: "A", ExpiresAt: now.Add(-time.Second)})
			},
			key:         "pkce:student:agent-1:token",
			wantDeleted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newRecordingBackend()
			require.NoError(t, tt.store(newRepository(b)))

			if tt.wantDeleted {
				assert.Contains(t, b.deleted, tt.key)
				assert.NotContains(t, b.ttls, tt.key)
				return
			}

			require.Contains(t, b.ttls, tt.key)
			assert.Equal(t, tt.wantTTL, b.ttls[tt.key])
		})
	}
}

func TestRepository_Unavailable(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		name    string
		backend func() *recordingBackend
		call    func(*storage.Repository) error
	}{
		{
			name:    "load token",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.err = errBackend; return b },
			call: func(r *storage.Repository) error {
				_, err := r.LoadToken(ctx, scope)
				return err
			},
		},
		{
			name:    "load proof",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.err = errBackend; return b },
			call: func(r *storage.Repository) error {
				_, err := r.LoadProof(ctx, scope)
				return err
			},
		},
		{
			name:    "take proof",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.err = errBackend; return b },
			call: func(r *storage.Repository) error {
				_, err := r.TakeProof(ctx, scope)
				return err
			},
		},
		{
			name:    "corrupt record",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.corrupt = true; return b },
			call: func(r *storage.Repository) error {
				_, err := r.LoadToken(ctx, scope)
				return err
			},
		},
		{
			name:    "store token",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.err = errBackend; return b },
			call: func(r *storage.Repository) error {
				return r.StoreToken(ctx, scope, session.TokenRecord{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(time.Hour)})
			},
		},
		{
			name:    "delete token",
			backend: func() *recordingBackend { b := newRecordingBackend(); b.err = errBackend; return b },
			call: func(r *storage.Repository) error {
				return r.DeleteToken(ctx, scope)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(newRepository(tt.backend()))

			assert.ErrorIs(t, err, serviceerr.ErrUnavailable)
			assert.NotErrorIs(t, err, serviceerr.ErrNotFound, "an unavailable store is never reported as no session")
		})
	}
}
