package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/middleware/agent"
)

// createHTTPServer creates the gate http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, manager SessionManager) (*http.Server, error) {
	g, err := newGate(cfg.HTTP.Upstream, manager)
	if err != nil {
		return nil, fmt.Errorf("creating the gate: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /logout", newTraceMiddleware(cfg, "logout")(http.HandlerFunc(g.logout)))
	mux.Handle("/", newTraceMiddleware(cfg, "gate")(g))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: agent.AgentMiddleware(cfg.Session.AgentCookie)(mux),
	}, nil
}

// StartHTTPServer starts the gate http server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, manager SessionManager) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server, err := createHTTPServer(ctx, cfg, manager)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create the server")
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
