// Package session implements the authorization code with PKCE lifecycle of a
// client: login redirects, callback validation, token exchange, expiry
// tracking and refresh, for sessions scoped per tenant and user agent.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/pkce"
	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

const (
	DefaultRefreshSkew    = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultProofTTL       = 10 * time.Minute
)

type Manager struct {
	tenants   *tenant.Resolver
	repo      Repository
	login     *LoginBuilder
	callback  *CallbackHandler
	lifecycle *TokenLifecycle
}

type options struct {
	now  func() time.Time
	pkce pkce.Source
}

type Option func(*options)

// WithClock replaces time.Now for expiry computations.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithPKCESource(src pkce.Source) Option {
	return func(o *options) { o.pkce = src }
}

func NewManager(
	cfg *config.Session,
	tenants *tenant.Resolver,
	repo Repository,
	auditLogger *otlpaudit.AuditLogger,
	httpClient *http.Client,
	opts ...Option,
) (*Manager, error) {
	if tenants == nil || repo == nil {
		return nil, errors.Join(serviceerr.ErrInvalidConfig, errors.New("tenants and repository are required"))
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	skew := positiveOr(cfg.RefreshSkew, DefaultRefreshSkew)
	timeout := positiveOr(cfg.RequestTimeout, DefaultRequestTimeout)
	proofTTL := positiveOr(cfg.ProofTTL, DefaultProofTTL)

	m, err := newMeters()
	if err != nil {
		return nil, fmt.Errorf("creating meters: %w", err)
	}

	tokens := &tokenClient{httpClient: httpClient, timeout: timeout, now: o.now}

	return &Manager{
		tenants: tenants,
		repo:    repo,
		login: &LoginBuilder{
			repo:     repo,
			pkce:     o.pkce,
			proofTTL: proofTTL,
			now:      o.now,
		},
		callback: &CallbackHandler{
			repo:   repo,
			tokens: tokens,
			audit:  auditLogger,
			meters: m,
			now:    o.now,
		},
		lifecycle: &TokenLifecycle{
			repo:   repo,
			tokens: tokens,
			meters: m,
			skew:   skew,
			now:    o.now,
		},
	}, nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}

// Scope resolves the tenant for hint and scopes it to the agent.
func (m *Manager) Scope(hint, agent string) (Scope, error) {
	if agent == "" {
		return Scope{}, errors.Join(serviceerr.ErrInvalidRequest, errors.New("agent is required"))
	}

	t, err := m.tenants.Resolve(hint)
	if err != nil {
		return Scope{}, err
	}

	return Scope{Tenant: t.Name, Agent: agent}, nil
}

func (m *Manager) tenant(ctx context.Context, scope Scope) (context.Context, tenant.Config, error) {
	t, err := m.tenants.ByName(scope.Tenant)
	if err != nil {
		return ctx, tenant.Config{}, err
	}

	return slogctx.With(ctx, "tenant", scope.Tenant, "agent", scope.Agent), t, nil
}

// Login returns the authorization endpoint URL of a new login attempt.
func (m *Manager) Login(ctx context.Context, scope Scope) (string, error) {
	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return "", err
	}

	return m.login.BuildLoginRedirect(ctx, t, scope)
}

func (m *Manager) HandleCallback(ctx context.Context, scope Scope, incoming string) (CallbackResult, error) {
	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return CallbackResult{}, err
	}

	return m.callback.HandleCallback(ctx, t, scope, incoming)
}

func (m *Manager) IsAuthenticated(ctx context.Context, scope Scope) (bool, error) {
	return m.lifecycle.IsAuthenticated(ctx, scope)
}

func (m *Manager) CurrentAccessToken(ctx context.Context, scope Scope) (string, bool, error) {
	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return "", false, err
	}

	return m.lifecycle.CurrentAccessToken(ctx, t, scope)
}

func (m *Manager) Refresh(ctx context.Context, scope Scope) (RefreshResult, error) {
	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return RefreshResult{}, err
	}

	return m.lifecycle.Refresh(ctx, t, scope)
}

// EnsureAuthenticated gates a protected view. A code carried by a URL on the
// tenant redirect target is handled first so a just completed login counts.
// Without a valid session a new login attempt is prepared and the caller is told to navigate to it.
func (m *Manager) EnsureAuthenticated(ctx context.Context, visit Visit) (GateResult, error) {
	hint := visit.Hint
	if hint == "" {
		hint = visit.URL
	}

	scope, err := m.Scope(hint, visit.Agent)
	if err != nil {
		return GateResult{}, err
	}

	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return GateResult{}, err
	}

	// only the redirect target carries callbacks for this tenant
	cb := CallbackResult{Outcome: CallbackNoCode, CleanURL: visit.URL}
	if t.IsRedirectTarget(visit.URL) {
		cb, err = m.callback.HandleCallback(ctx, t, scope, visit.URL)
		if err != nil {
			return GateResult{}, err
		}
	}

	ok, err := m.lifecycle.IsAuthenticated(ctx, scope)
	if err != nil {
		return GateResult{}, err
	}

	if ok {
		return GateResult{Status: Authenticated, Scope: scope, Callback: cb}, nil
	}

	loginURL, err := m.login.BuildLoginRedirect(ctx, t, scope)
	if err != nil {
		return GateResult{}, err
	}

	return GateResult{Status: RedirectToLogin, Scope: scope, Callback: cb, LoginURL: loginURL}, nil
}

// Logout clears the scope's records and returns the provider logout URL.
// The local clear is complete when Logout returns.
func (m *Manager) Logout(ctx context.Context, scope Scope) (string, error) {
	ctx, t, err := m.tenant(ctx, scope)
	if err != nil {
		return "", err
	}

	if err := m.repo.DeleteToken(ctx, scope); err != nil {
		return "", fmt.Errorf("deleting token record: %w", err)
	}

	if err := m.repo.DeleteProof(ctx, scope); err != nil {
		return "", fmt.Errorf("deleting proof material: %w", err)
	}

	slogctx.Info(ctx, "Logged out")

	return t.LogoutURL(), nil
}

// AuthorizedRequest sets a bearer credential on req when the scope has a
// usable access token and returns req. Without one req is left
// unauthenticated and the caller handles the outcome.
func (m *Manager) AuthorizedRequest(ctx context.Context, scope Scope, req *http.Request) (*http.Request, error) {
	token, ok, err := m.CurrentAccessToken(ctx, scope)
	if err != nil {
		return req, err
	}

	if ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// Identity returns the unverified display claims of the scope's ID token.
func (m *Manager) Identity(ctx context.Context, scope Scope) (Identity, error) {
	record, err := m.repo.LoadToken(ctx, scope)
	if err != nil {
		return Identity{}, err
	}

	if record.IDToken == "" {
		return Identity{}, serviceerr.ErrNotFound
	}

	return parseIdentity(record.IDToken)
}
