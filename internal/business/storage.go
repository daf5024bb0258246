package business

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/storage"
	"github.com/openkcm/pkce-session-manager/internal/storage/file"
	"github.com/openkcm/pkce-session-manager/internal/storage/memory"
	storagesql "github.com/openkcm/pkce-session-manager/internal/storage/sql"
	storagevalkey "github.com/openkcm/pkce-session-manager/internal/storage/valkey"
)

// sessionStore is the configured storage backend. purger is nil for
// backends that expire records on their own.
type sessionStore struct {
	repo    *storage.Repository
	purger  storage.Purger
	closeFn func()
}

func (s *sessionStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*sessionStore, error) {
	var (
		backend storage.Backend
		store   = &sessionStore{}
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendMemory, "":
		b := memory.NewBackend()
		backend, store.purger = b, b
	case config.StorageBackendFile:
		b, err := file.NewBackend(cfg.Storage.File.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening file storage: %w", err)
		}

		backend, store.purger = b, b
	case config.StorageBackendValKey:
		opts, err := config.MakeValKeyOptions(cfg.ValKey)
		if err != nil {
			return nil, fmt.Errorf("making valkey options from config: %w", err)
		}

		client, err := valkey.NewClient(opts)
		if err != nil {
			return nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		backend, store.closeFn = storagevalkey.NewBackend(client), client.Close
	case config.StorageBackendPostgres:
		db, err := openPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}

		b := storagesql.NewBackend(db)
		backend, store.purger, store.closeFn = b, b, db.Close
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	store.repo = storage.NewRepository(backend, cfg.Storage.Prefix, storage.WithTokenTTL(cfg.Storage.TokenTTL))

	return store, nil
}

// openPool connects to postgres with query tracing.
func openPool(ctx context.Context, conf config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(conf)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}
