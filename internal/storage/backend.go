// Package storage persists session records in a key value backend.
//
// Records are stored as JSON under keys of the form prefix:tenant:agent:kind.
// A backend failure is reported as serviceerr.ErrUnavailable and is never
// confused with an absent record, which is serviceerr.ErrNotFound.
package storage

import (
	"context"
	"time"
)

// Backend is a byte oriented key value store with per key expiry.
type Backend interface {
	// Get returns serviceerr.ErrNotFound when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take returns the value of key and removes it in one step. Of concurrent
	// takers of one key at most one receives the value; the others get
	// serviceerr.ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
	// Delete removes keys. Absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by backends that need expired records removed
// periodically.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}
