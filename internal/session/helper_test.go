package session_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openkcm/pkce-session-manager/internal/config"
	"github.com/openkcm/pkce-session-manager/internal/session"
	sessionmock "github.com/openkcm/pkce-session-manager/internal/session/mock"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

const (
	studentRedirect  = "https://app.example.com/student/home"
	educatorRedirect = "https://app.example.com/educator/home"
)

var (
	studentScope  = session.Scope{Tenant: "student", Agent: "agent-1"}
	educatorScope = session.Scope{Tenant: "educator", Agent: "agent-1"}
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type responder func(form url.Values) (int, any)

// idp is a fake identity provider token endpoint recording every request.
type idp struct {
	*httptest.Server

	mu      sync.Mutex
	forms   []url.Values
	respond responder
}

func startIDP(t *testing.T, respond responder) *idp {
	t.Helper()

	p := &idp{respond: respond}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tenant.DefaultTokenPath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.forms = append(p.forms, r.PostForm)
		respond := p.respond
		p.mu.Unlock()

		status, body := respond(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(p.Close)

	return p
}

func (p *idp) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.forms)
}

func (p *idp) lastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		return nil
	}
	return p.forms[len(p.forms)-1]
}

func (p *idp) resolver(t *testing.T, defaultTenant string) *tenant.Resolver {
	t.Helper()

	r, err := tenant.NewResolver([]tenant.Config{
		{
			Name:                "educator",
			AuthorizationDomain: p.URL,
			ClientID:            "educator-client",
			RedirectTarget:      educatorRedirect,
			Scope:               []string{"openid", "email", "profile"},
			Markers:             []string{"educator", "index-2"},
		},
		{
			Name:                "student",
			AuthorizationDomain: p.URL,
			ClientID:            "student-client",
			RedirectTarget:      studentRedirect,
			LogoutTarget:        "https://app.example.com/",
			Scope:               []string{"openid", "email"},
			Markers:             []string{"student"},
		},
	}, defaultTenant)
	require.NoError(t, err)

	return r
}

func tokenResponse(access, refresh string, expiresIn int) map[string]any {
	body := map[string]any{
		"access_token": access,
		"id_token":     testIDToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	return body
}

func okExchange(url.Values) (int, any) {
	return http.StatusOK, tokenResponse("access-1", "refresh-1", 3600)
}

func invalidGrant(url.Values) (int, any) {
	return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code expired"}
}

type fixture struct {
	idp     *idp
	repo    *sessionmock.Repository
	clock   *clock
	manager *session.Manager
}

func newFixture(t *testing.T, respond responder, repo *sessionmock.Repository, cfg config.Session) *fixture {
	t.Helper()

	if repo == nil {
		repo = sessionmock.NewInMemRepository()
	}

	p := startIDP(t, respond)
	c := newClock()

	m, err := session.NewManager(&cfg, p.resolver(t, "student"), repo, nil, p.Client(), session.WithClock(c.Now))
	require.NoError(t, err)

	return &fixture{idp: p, repo: repo, clock: c, manager: m}
}

// login starts a login attempt and returns the callback URL the provider
// would redirect to with code.
func (f *fixture) login(t *testing.T, scope session.Scope, redirect, code string) string {
	t.Helper()

	loginURL, err := f.manager.Login(t.Context(), scope)
	require.NoError(t, err)

	u, err := url.Parse(loginURL)
	require.NoError(t, err)

	return redirect + "?code=" + code + "&state=" + u.Query().Get("state")
}

var testIDToken = func() string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims := enc.EncodeToString([]byte(`{"sub":"user-42","email":"ada@example.com","name":"Ada Lovelace","cognito:username":"ada"}`))
	return header + "." + claims + "." + enc.EncodeToString([]byte("signature"))
}()
