package business

import (
	"context"
	"fmt"
	"io"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

// TokenMain prints a current access token of the session stored for the
// tenant selected by hint and the given agent. The token is refreshed first
// when it is about to expire.
func TokenMain(ctx context.Context, cfg *config.Config, out io.Writer, hint, agentID string) error {
	sessionManager, store, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer store.Close()

	scope, err := sessionManager.Scope(hint, agentID)
	if err != nil {
		return fmt.Errorf("resolving the session: %w", err)
	}

	token, ok, err := sessionManager.CurrentAccessToken(ctx, scope)
	if err != nil {
		return fmt.Errorf("reading the access token: %w", err)
	}

	if !ok {
		return fmt.Errorf("%w: tenant %s, agent %s", serviceerr.ErrUnauthenticated, scope.Tenant, scope.Agent)
	}

	_, err = fmt.Fprintln(out, token)

	return err
}
