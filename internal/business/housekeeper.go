package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/storage"
)

// HousekeeperMain purges expired session records until ctx is done.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open the session storage: %w", err)
	}
	defer store.Close()

	if store.purger == nil {
		slogctx.Info(ctx, "The storage backend expires records itself; nothing to purge", "backend", cfg.Storage.Backend)
		return nil
	}

	return runHousekeeper(ctx, store.purger, cfg.Housekeeper.TriggerInterval)
}

func runHousekeeper(ctx context.Context, purger storage.Purger, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid housekeeper trigger interval %s", interval)
	}

	c := time.Tick(interval)
	for {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		} else if n > 0 {
			slogctx.Info(ctx, "Purged expired session records", "count", n)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
