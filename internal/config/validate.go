package config

import (
	"errors"
	"fmt"
	"net/url"
)

// TenantCount is the number of authorization realms the service serves.
const TenantCount = 2

var (
	ErrTenantCount     = errors.New("exactly two tenants must be configured")
	ErrTenantName      = errors.New("tenant name must be set and unique")
	ErrDefaultTenant   = errors.New("default tenant does not name a configured tenant")
	ErrInvalidURL      = errors.New("invalid absolute http(s) URL")
	ErrStorageBackend  = errors.New("unknown storage backend")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrTokenClientType = errors.New("unknown token client type")
)

// Validate checks the parts of the configuration the session core relies on.
// All violations are reported together.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateTenants()...)

	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendFile, StorageBackendValKey, StorageBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrStorageBackend, c.Storage.Backend))
	}

	for name, d := range map[string]int64{
		"session.refreshSkew":    int64(c.Session.RefreshSkew),
		"session.requestTimeout": int64(c.Session.RequestTimeout),
		"session.proofTTL":       int64(c.Session.ProofTTL),
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidDuration, name))
		}
	}

	switch c.Session.TokenClient.Type {
	case TokenClientPublic, "":
	case TokenClientMTLS:
		if c.Session.TokenClient.MTLS == nil {
			errs = append(errs, fmt.Errorf("%w: mtls requires session.tokenClient.mtls", ErrTokenClientType))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrTokenClientType, c.Session.TokenClient.Type))
	}

	if c.HTTP.Upstream != "" {
		if err := checkAbsoluteURL(c.HTTP.Upstream); err != nil {
			errs = append(errs, fmt.Errorf("http.upstream: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateTenants() []error {
	var errs []error
	if len(c.Tenants) != TenantCount {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrTenantCount, len(c.Tenants)))
	}

	names := make(map[string]struct{}, len(c.Tenants))
	for i, t := range c.Tenants {
		if _, dup := names[t.Name]; t.Name == "" || dup {
			errs = append(errs, fmt.Errorf("%w: tenants[%d] %q", ErrTenantName, i, t.Name))
		}
		names[t.Name] = struct{}{}

		if err := checkAbsoluteURL(t.AuthorizationDomain); err != nil {
			errs = append(errs, fmt.Errorf("tenants[%d].authorizationDomain: %w", i, err))
		}

		if err := checkAbsoluteURL(t.RedirectTarget); err != nil {
			errs = append(errs, fmt.Errorf("tenants[%d].redirectTarget: %w", i, err))
		}

		if t.LogoutTarget != "" {
			if err := checkAbsoluteURL(t.LogoutTarget); err != nil {
				errs = append(errs, fmt.Errorf("tenants[%d].logoutTarget: %w", i, err))
			}
		}
	}

	if c.Session.DefaultTenant != "" {
		if _, ok := names[c.Session.DefaultTenant]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDefaultTenant, c.Session.DefaultTenant))
		}
	}

	return errs
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	return nil
}
