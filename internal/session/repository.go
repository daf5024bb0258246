package session

import "context"

// Repository persists proof material and token records per Scope.
//
// Load operations return serviceerr.ErrNotFound for absent records and
// serviceerr.ErrUnavailable when the store could not answer.
type Repository interface {
	// Proof operations
	LoadProof(ctx context.Context, scope Scope) (Proof, error)
	// TakeProof returns the proof material and removes it in one step. Of
	// concurrent takers, across processes sharing the store, at most one
	// receives it.
	TakeProof(ctx context.Context, scope Scope) (Proof, error)
	StoreProof(ctx context.Context, scope Scope, proof Proof) error
	DeleteProof(ctx context.Context, scope Scope) error
	// Token operations
	LoadToken(ctx context.Context, scope Scope) (TokenRecord, error)
	StoreToken(ctx context.Context, scope Scope, token TokenRecord) error
	DeleteToken(ctx context.Context, scope Scope) error
}
