package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/middleware/agent"
	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/session"
)

// SessionManager is the part of session.Manager the gate depends on.
type SessionManager interface {
	Scope(hint, agent string) (session.Scope, error)
	EnsureAuthenticated(ctx context.Context, visit session.Visit) (session.GateResult, error)
	AuthorizedRequest(ctx context.Context, scope session.Scope, req *http.Request) (*http.Request, error)
	Identity(ctx context.Context, scope session.Scope) (session.Identity, error)
	Logout(ctx context.Context, scope session.Scope) (string, error)
}

// gate protects every view behind a tenant session. Authenticated requests
// are forwarded to the upstream with a bearer token. Without an upstream the
// gate answers with the session identity.
type gate struct {
	manager SessionManager
	proxy   *httputil.ReverseProxy
}

type whoami struct {
	Tenant   string `json:"tenant"`
	Subject  string `json:"sub,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

func newGate(upstream string, manager SessionManager) (*gate, error) {
	g := &gate{manager: manager}
	if upstream == "" {
		return g, nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}

	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set("Cache-Control", "no-store")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slogctx.Error(r.Context(), "Failed to reach the upstream", "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return g, nil
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, err := agent.AgentFromContext(ctx)
	if err != nil {
		fail(ctx, w, errors.Join(serviceerr.ErrInvalidRequest, err))
		return
	}

	res, err := g.manager.EnsureAuthenticated(ctx, session.Visit{
		Agent: agentID,
		Hint:  r.URL.Path,
		URL:   requestURL(r),
	})
	if err != nil {
		fail(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	switch {
	case res.Status == session.RedirectToLogin:
		http.Redirect(w, r, res.LoginURL, http.StatusFound)
	case res.Callback.Outcome != session.CallbackNoCode:
		// drop code and state from the address bar
		http.Redirect(w, r, res.Callback.CleanURL, http.StatusFound)
	default:
		g.serveAuthenticated(w, r, res.Scope)
	}
}

func (g *gate) serveAuthenticated(w http.ResponseWriter, r *http.Request, scope session.Scope) {
	ctx := r.Context()

	if g.proxy == nil {
		g.whoami(w, r, scope)
		return
	}

	out := r.Clone(ctx)
	out.Header.Del("Authorization")

	if _, err := g.manager.AuthorizedRequest(ctx, scope, out); err != nil {
		fail(ctx, w, err)
		return
	}

	if out.Header.Get("Authorization") == "" {
		// the session ended after the gate check; the next visit logs in again
		http.Redirect(w, r, r.URL.RequestURI(), http.StatusFound)
		return
	}

	g.proxy.ServeHTTP(w, out)
}

func (g *gate) whoami(w http.ResponseWriter, r *http.Request, scope session.Scope) {
	ctx := r.Context()
	resp := whoami{Tenant: scope.Tenant}

	id, err := g.manager.Identity(ctx, scope)
	switch {
	case err == nil:
		resp.Subject, resp.Email, resp.Name, resp.Username = id.Subject, id.Email, id.Name, id.Username
	case errors.Is(err, serviceerr.ErrNotFound):
	default:
		slogctx.Debug(ctx, "Failed to read the identity claims", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slogctx.Error(ctx, "Failed to write the response", "error", err)
	}
}

// logout ends the tenant session named by the tenant query parameter or,
// without one, by the referring page.
func (g *gate) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, err := agent.AgentFromContext(ctx)
	if err != nil {
		fail(ctx, w, errors.Join(serviceerr.ErrInvalidRequest, err))
		return
	}

	hint := r.URL.Query().Get("tenant")
	if hint == "" {
		if ref, err := url.Parse(r.Referer()); err == nil {
			hint = ref.Path
		}
	}

	scope, err := g.manager.Scope(hint, agentID)
	if err != nil {
		fail(ctx, w, err)
		return
	}

	logoutURL, err := g.manager.Logout(ctx, scope)
	if err != nil {
		fail(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

func fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := serviceerr.HTTPStatusFor(err)
	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Failed to serve the request", "error", err)
	} else {
		slogctx.Warn(ctx, "Rejected the request", "error", err)
	}

	http.Error(w, http.StatusText(status), status)
}

// requestURL reconstructs the URL the browser requested, honouring the
// forwarding headers of a terminating proxy in front of the gate.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	return scheme + "://" + host + r.URL.RequestURI()
}
