// Package file is a storage backend keeping one file per record in a
// directory. Records survive restarts of a single host.
package file

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

const ext = ".json"

type envelope struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (e envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

type Backend struct {
	dir string
	now func() time.Time
}

type Option func(*Backend)

func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// NewBackend creates dir with owner only permissions when missing.
func NewBackend(dir string, opts ...Option) (*Backend, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	b := &Backend{dir: dir, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	return b, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	path := b.path(key)

	e, err := readEnvelope(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, serviceerr.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	if e.expired(b.now()) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slogctx.Warn(ctx, "Failed to remove an expired record", "error", err)
		}

		return nil, serviceerr.ErrNotFound
	}

	return e.Value, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := envelope{Value: value}
	if ttl > 0 {
		at := b.now().Add(ttl)
		e.ExpiresAt = &at
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if err := atomic.WriteFile(b.path(key), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}

	return nil
}

// Take claims the record by renaming it, which only one caller on the host can
// do, then reads and removes the claimed file.
func (b *Backend) Take(ctx context.Context, key string) ([]byte, error) {
	path := b.path(key)
	claimed := path + ".taken-" + uuid.NewString()

	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, serviceerr.ErrNotFound
		}

		return nil, fmt.Errorf("claiming record: %w", err)
	}

	defer func() {
		if err := os.Remove(claimed); err != nil {
			slogctx.Warn(ctx, "Failed to remove a taken record", "error", err)
		}
	}()

	e, err := readEnvelope(claimed)
	if err != nil {
		return nil, err
	}

	if e.expired(b.now()) {
		return nil, serviceerr.ErrNotFound
	}

	return e.Value, nil
}

func (b *Backend) Delete(_ context.Context, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if err := os.Remove(b.path(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PurgeExpired removes expired records and returns how many were removed.
func (b *Backend) PurgeExpired(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("reading storage directory: %w", err)
	}

	now := b.now()
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		path := filepath.Join(b.dir, entry.Name())
		e, err := readEnvelope(path)
		if err != nil {
			slogctx.Debug(ctx, "Skipping an unreadable record", "file", entry.Name(), "error", err)
			continue
		}

		if !e.expired(now) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing %s: %w", entry.Name(), err)
		}

		removed++
	}

	return removed, nil
}

// path encodes key so that separators in tenant or agent ids cannot escape dir.
func (b *Backend) path(key string) string {
	return filepath.Join(b.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+ext)
}

func readEnvelope(path string) (envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope{}, err
	}

	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("decoding record: %w", err)
	}

	return e, nil
}
