// Package tenant maps a request context onto one of the two authorization realms.
package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

const (
	DefaultAuthorizePath = "/oauth2/authorize"
	DefaultTokenPath     = "/oauth2/token"
	DefaultLogoutPath    = "/logout"
)

// Config is an immutable authorization realm.
type Config struct {
	Name string
	// AuthorizationDomain is the origin of the identity provider's hosted endpoints.
	AuthorizationDomain string
	ClientID            string
	RedirectTarget      string
	// LogoutTarget is where the provider sends the browser after logout.
	// It falls back to RedirectTarget.
	LogoutTarget string
	Scope        []string
	Markers      []string

	AuthorizePath string
	TokenPath     string
	LogoutPath    string
}

func (c Config) AuthorizeURL() string { return c.endpoint(c.AuthorizePath, DefaultAuthorizePath) }
func (c Config) TokenURL() string     { return c.endpoint(c.TokenPath, DefaultTokenPath) }

// LogoutURL is the provider logout endpoint including client_id and logout_uri.
func (c Config) LogoutURL() string {
	target := c.LogoutTarget
	if target == "" {
		target = c.RedirectTarget
	}

	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("logout_uri", target)

	return c.endpoint(c.LogoutPath, DefaultLogoutPath) + "?" + q.Encode()
}

// IsRedirectTarget reports whether rawURL addresses the path of the tenant's
// redirect target. Query, fragment and a trailing slash are ignored.
func (c Config) IsRedirectTarget(rawURL string) bool {
	got, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	want, err := url.Parse(c.RedirectTarget)
	if err != nil {
		return false
	}

	return cleanPath(got.Path) == cleanPath(want.Path)
}

func cleanPath(p string) string {
	return "/" + strings.Trim(p, "/")
}

func (c Config) endpoint(path, fallback string) string {
	if path == "" {
		path = fallback
	}

	return strings.TrimSuffix(c.AuthorizationDomain, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (c Config) clone() Config {
	c.Scope = slices.Clone(c.Scope)
	c.Markers = slices.Clone(c.Markers)

	return c
}

// Resolver selects a tenant from a context hint such as a request path or URL.
//
// Tenants are tried in configuration order and the first one with a marker
// contained in the hint wins. A hint that matches nothing selects the default
// tenant. Without a default it is a configuration error.
type Resolver struct {
	tenants     []Config
	defaultName string
}

func NewResolver(tenants []Config, defaultName string) (*Resolver, error) {
	if len(tenants) != 2 {
		return nil, errors.Join(serviceerr.ErrInvalidConfig, fmt.Errorf("expected 2 tenants, got %d", len(tenants)))
	}

	r := &Resolver{defaultName: defaultName}
	for _, t := range tenants {
		if t.Name == "" {
			return nil, errors.Join(serviceerr.ErrInvalidConfig, errors.New("tenant without name"))
		}

		if slices.ContainsFunc(r.tenants, func(c Config) bool { return c.Name == t.Name }) {
			return nil, errors.Join(serviceerr.ErrInvalidConfig, fmt.Errorf("duplicate tenant %q", t.Name))
		}

		if t.ClientID == "" || t.AuthorizationDomain == "" || t.RedirectTarget == "" {
			return nil, errors.Join(serviceerr.ErrInvalidConfig, fmt.Errorf("tenant %q is incomplete", t.Name))
		}

		r.tenants = append(r.tenants, t.clone())
	}

	if defaultName != "" {
		if _, err := r.ByName(defaultName); err != nil {
			return nil, errors.Join(serviceerr.ErrInvalidConfig, fmt.Errorf("default tenant %q is not configured", defaultName))
		}
	}

	return r, nil
}

// Resolve returns the tenant selected by hint.
func (r *Resolver) Resolve(hint string) (Config, error) {
	for _, t := range r.tenants {
		for _, m := range t.Markers {
			if m != "" && strings.Contains(hint, m) {
				return t.clone(), nil
			}
		}
	}

	if r.defaultName == "" {
		return Config{}, serviceerr.ErrUnresolvableTenant
	}

	return r.ByName(r.defaultName)
}

func (r *Resolver) ByName(name string) (Config, error) {
	for _, t := range r.tenants {
		if t.Name == name {
			return t.clone(), nil
		}
	}

	return Config{}, serviceerr.ErrUnresolvableTenant
}

// Names lists the tenant names in configuration order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.tenants))
	for _, t := range r.tenants {
		names = append(names, t.Name)
	}

	return names
}
