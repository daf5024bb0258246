package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/session"
)

const DefaultTokenTTL = 30 * 24 * time.Hour

type kind string

const (
	kindProof kind = "proof"
	kindToken kind = "token"
)

// Repository implements session.Repository on top of a Backend.
type Repository struct {
	backend  Backend
	prefix   string
	tokenTTL time.Duration
	now      func() time.Time
}

var _ session.Repository = (*Repository)(nil)

type RepositoryOption func(*Repository)

// WithTokenTTL sets how long token records holding a refresh token are kept.
func WithTokenTTL(ttl time.Duration) RepositoryOption {
	return func(r *Repository) {
		if ttl > 0 {
			r.tokenTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

func NewRepository(backend Backend, prefix string, opts ...RepositoryOption) *Repository {
	r := &Repository{
		backend:  backend,
		prefix:   strings.TrimSuffix(prefix, ":"),
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

func (r *Repository) LoadProof(ctx context.Context, scope session.Scope) (session.Proof, error) {
	var p session.Proof
	if err := r.load(ctx, r.key(scope, kindProof), &p); err != nil {
		return session.Proof{}, err
	}

	return p, nil
}

// TakeProof consumes the proof material of scope. See Backend.Take.
func (r *Repository) TakeProof(ctx context.Context, scope session.Scope) (session.Proof, error) {
	var p session.Proof
	if err := r.decode(ctx, r.key(scope, kindProof), r.backend.Take, &p); err != nil {
		return session.Proof{}, err
	}

	return p, nil
}

func (r *Repository) StoreProof(ctx context.Context, scope session.Scope, proof session.Proof) error {
	var ttl time.Duration
	if !proof.Expiry.IsZero() {
		ttl = proof.Expiry.Sub(r.now())
		if ttl <= 0 {
			return r.delete(ctx, r.key(scope, kindProof))
		}
	}

	return r.store(ctx, r.key(scope, kindProof), proof, ttl)
}

func (r *Repository) DeleteProof(ctx context.Context, scope session.Scope) error {
	return r.delete(ctx, r.key(scope, kindProof))
}

func (r *Repository) LoadToken(ctx context.Context, scope session.Scope) (session.TokenRecord, error) {
	var t session.TokenRecord
	if err := r.load(ctx, r.key(scope, kindToken), &t); err != nil {
		return session.TokenRecord{}, err
	}

	return t, nil
}

// StoreToken keeps records with a refresh token for the token TTL. Records
// without one are useless after expiresAt and expire with it.
func (r *Repository) StoreToken(ctx context.Context, scope session.Scope, token session.TokenRecord) error {
	ttl := r.tokenTTL
	if token.RefreshToken == "" {
		ttl = token.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return r.delete(ctx, r.key(scope, kindToken))
		}
	}

	return r.store(ctx, r.key(scope, kindToken), token, ttl)
}

func (r *Repository) DeleteToken(ctx context.Context, scope session.Scope) error {
	return r.delete(ctx, r.key(scope, kindToken))
}

func (r *Repository) key(scope session.Scope, k kind) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, scope.Tenant, scope.Agent, k)
}

func (r *Repository) load(ctx context.Context, key string, into any) error {
	return r.decode(ctx, key, r.backend.Get, into)
}

func (r *Repository) decode(ctx context.Context, key string, read func(context.Context, string) ([]byte, error), into any) error {
	data, err := read(ctx, key)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return serviceerr.ErrNotFound
	}

	if err != nil {
		return errors.Join(serviceerr.ErrUnavailable, fmt.Errorf("reading %s: %w", key, err))
	}

	if err := json.Unmarshal(data, into); err != nil {
		return errors.Join(serviceerr.ErrUnavailable, fmt.Errorf("decoding %s: %w", key, err))
	}

	return nil
}

func (r *Repository) store(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	if err := r.backend.Set(ctx, key, data, ttl); err != nil {
		return errors.Join(serviceerr.ErrUnavailable, fmt.Errorf("setting %s: %w", key, err))
	}

	return nil
}

func (r *Repository) delete(ctx context.Context, key string) error {
	if err := r.backend.Delete(ctx, key); err != nil {
		return errors.Join(serviceerr.ErrUnavailable, fmt.Errorf("deleting %s: %w", key, err))
	}

	return nil
}
