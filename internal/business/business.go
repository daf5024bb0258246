package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/business/server"
	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/session"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

// Main starts the gate server and, for backends that need it, the in
// process housekeeper.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionManager, store, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	defer store.Close()

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 2)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, sessionManager)
	})

	if store.purger != nil && cfg.Housekeeper.TriggerInterval > 0 {
		wg.Go(func() {
			errChan <- runHousekeeper(ctx, store.purger, cfg.Housekeeper.TriggerInterval)
		})
	}

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	wg.Wait()

	return nil
}

func initSessionManager(ctx context.Context, cfg *config.Config) (*session.Manager, *sessionStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}

	resolver, err := loadTenants(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tenants: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("creating audit logger: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session storage: %w", err)
	}

	sessManager, err := session.NewManager(
		&cfg.Session,
		resolver,
		store.repo,
		auditLogger,
		httpClient,
	)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	slogctx.Info(ctx, "Session manager ready", "backend", cfg.Storage.Backend, "tenants", resolver.Names())

	return sessManager, store, nil
}

// loadTenants resolves the client ids of the configured tenants.
func loadTenants(cfg *config.Config) (*tenant.Resolver, error) {
	tenants := make([]tenant.Config, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		clientID, err := commoncfg.LoadValueFromSourceRef(t.ClientID)
		if err != nil {
			return nil, fmt.Errorf("loading client id of tenant %q: %w", t.Name, err)
		}

		tenants = append(tenants, tenant.Config{
			Name:                t.Name,
			AuthorizationDomain: t.AuthorizationDomain,
			ClientID:            string(clientID),
			RedirectTarget:      t.RedirectTarget,
			LogoutTarget:        t.LogoutTarget,
			Scope:               t.Scope,
			Markers:             t.Markers,
			AuthorizePath:       t.AuthorizePath,
			TokenPath:           t.TokenPath,
			LogoutPath:          t.LogoutPath,
		})
	}

	return tenant.NewResolver(tenants, cfg.Session.DefaultTenant)
}

// loadHTTPClient returns the client used against the token endpoints. Public
// clients authenticate with PKCE alone; mtls adds a client certificate.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	switch cfg.Session.TokenClient.Type {
	case config.TokenClientPublic, "":
		return &http.Client{Transport: http.DefaultTransport}, nil
	case config.TokenClientMTLS:
		if cfg.Session.TokenClient.MTLS == nil {
			return nil, errors.New("mtls token client without mtls config")
		}

		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.Session.TokenClient.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}

		return &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsConfig,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown token client type %q", cfg.Session.TokenClient.Type)
	}
}
