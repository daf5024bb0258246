package sessionmock

import (
	"context"
	"sync"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/session"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu     sync.Mutex
	proofs map[session.Scope]session.Proof
	tokens map[session.Scope]session.TokenRecord

	loadProofErr, takeProofErr, storeProofErr, deleteProofErr error
	loadTokenErr, storeTokenErr, deleteTokenErr error
}

func WithProof(scope session.Scope, proof session.Proof) RepositoryOption {
	return func(r *Repository) { r.proofs[scope] = proof }
}
func WithToken(scope session.Scope, token session.TokenRecord) RepositoryOption {
	return func(r *Repository) { r.tokens[scope] = token }
}
func WithLoadProofError(err error) RepositoryOption {
	return func(r *Repository) { r.loadProofErr = err }
}
func WithTakeProofError(err error) RepositoryOption {
	return func(r *Repository) { r.takeProofErr = err }
}
func WithStoreProofError(err error) RepositoryOption {
	return func(r *Repository) { r.storeProofErr = err }
}
func WithDeleteProofError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteProofErr = err }
}
func WithLoadTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.loadTokenErr = err }
}
func WithStoreTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.storeTokenErr = err }
}
func WithDeleteTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteTokenErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		proofs: make(map[session.Scope]session.Proof),
		tokens: make(map[session.Scope]session.TokenRecord),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) LoadProof(_ context.Context, scope session.Scope) (session.Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadProofErr != nil {
		return session.Proof{}, r.loadProofErr
	}
	if p, ok := r.proofs[scope]; ok {
		return p, nil
	}
	return session.Proof{}, serviceerr.ErrNotFound
}

func (r *Repository) TakeProof(_ context.Context, scope session.Scope) (session.Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.takeProofErr != nil {
		return session.Proof{}, r.takeProofErr
	}
	p, ok := r.proofs[scope]
	if !ok {
		return session.Proof{}, serviceerr.ErrNotFound
	}
	delete(r.proofs, scope)
	return p, nil
}

func (r *Repository) StoreProof(_ context.Context, scope session.Scope, proof session.Proof) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeProofErr != nil {
		return r.storeProofErr
	}
	r.proofs[scope] = proof
	return nil
}

func (r *Repository) DeleteProof(_ context.Context, scope session.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteProofErr != nil {
		return r.deleteProofErr
	}
	delete(r.proofs, scope)
	return nil
}

func (r *Repository) LoadToken(_ context.Context, scope session.Scope) (session.TokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadTokenErr != nil {
		return session.TokenRecord{}, r.loadTokenErr
	}
	if t, ok := r.tokens[scope]; ok {
		return t, nil
	}
	return session.TokenRecord{}, serviceerr.ErrNotFound
}

func (r *Repository) StoreToken(_ context.Context, scope session.Scope, token session.TokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeTokenErr != nil {
		return r.storeTokenErr
	}
	r.tokens[scope] = token
	return nil
}

func (r *Repository) DeleteToken(_ context.Context, scope session.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteTokenErr != nil {
		return r.deleteTokenErr
	}
	delete(r.tokens, scope)
	return nil
}

// Proof returns the stored proof material of scope.
func (r *Repository) Proof(scope session.Scope) (session.Proof, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proofs[scope]
	return p, ok
}

// Token returns the stored token record of scope.
func (r *Repository) Token(scope session.Scope) (session.TokenRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[scope]
	return t, ok
}
