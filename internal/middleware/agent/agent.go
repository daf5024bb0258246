// Package agent identifies the user agent of a request with a random id kept
// in a cookie and makes it available in the request context.
package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/openkcm/pkce-session-manager/internal/config"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// AgentKey is the context key used to store the agent id.
const AgentKey contextKey = "agent"

// AgentMiddleware reads the agent id from the cookie described by tmpl.
// Requests without a well formed id get a new one, set on the response.
func AgentMiddleware(tmpl config.CookieTemplate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := agentFromRequest(r, tmpl.Name)
			if !ok {
				id = uuid.NewString()
				http.SetCookie(w, tmpl.ToCookie(id))
			}

			ctx := context.WithValue(r.Context(), AgentKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext retrieves the agent id stored by AgentMiddleware.
func AgentFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(AgentKey).(string)
	if !ok || id == "" {
		return "", errors.New("agent not found in context")
	}

	return id, nil
}

func agentFromRequest(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}

	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}

	return id.String(), true
}
