// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Storage     Storage     `yaml:"storage"`
	Database    Database    `yaml:"database"`
	ValKey      ValKey      `yaml:"valkey"`
	Housekeeper Housekeeper `yaml:"housekeeper"`

	Session Session  `yaml:"session"`
	Tenants []Tenant `yaml:"tenants"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	// Upstream is the protected application the gate proxies authenticated requests to.
	Upstream string `yaml:"upstream"`
}

type StorageBackend string

const (
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendFile     StorageBackend = "file"
	StorageBackendValKey   StorageBackend = "valkey"
	StorageBackendPostgres StorageBackend = "postgres"
)

type Storage struct {
	Backend StorageBackend `yaml:"backend" default:"memory"`
	Prefix  string         `yaml:"prefix" default:"pkce-session-manager"`
	// TokenTTL bounds how long a token record carrying a refresh token is kept.
	TokenTTL time.Duration `yaml:"tokenTTL" default:"720h"`
	File     FileStorage   `yaml:"file"`
}

type FileStorage struct {
	Dir string `yaml:"dir" default:"./sessions"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	SSLMode  string              `yaml:"sslMode"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"10m"`
}

type Session struct {
	// RefreshSkew is the margin before expiry in which an access token is refreshed.
	RefreshSkew time.Duration `yaml:"refreshSkew" default:"60s"`
	// RequestTimeout bounds every call to the identity provider.
	RequestTimeout time.Duration `yaml:"requestTimeout" default:"10s"`
	// ProofTTL bounds how long an unfinished login attempt is kept.
	ProofTTL time.Duration `yaml:"proofTTL" default:"10m"`
	// DefaultTenant is used when no tenant marker matches the request context.
	// Leaving it empty turns an unmatched context into an error.
	DefaultTenant string         `yaml:"defaultTenant"`
	AgentCookie   CookieTemplate `yaml:"agentCookie"`
	TokenClient   TokenClient    `yaml:"tokenClient"`
}

type TokenClientType string

const (
	TokenClientPublic TokenClientType = "public"
	TokenClientMTLS   TokenClientType = "mtls"
)

// TokenClient configures the transport used against the token endpoint.
type TokenClient struct {
	Type TokenClientType `yaml:"type" default:"public"`
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

// Tenant describes one authorization realm.
type Tenant struct {
	Name                string              `yaml:"name"`
	AuthorizationDomain string              `yaml:"authorizationDomain"`
	ClientID            commoncfg.SourceRef `yaml:"clientID"`
	RedirectTarget      string              `yaml:"redirectTarget"`
	LogoutTarget        string              `yaml:"logoutTarget"`
	Scope               []string            `yaml:"scope"`
	// Markers are substrings of the request context that select this tenant.
	Markers []string `yaml:"markers"`

	AuthorizePath string `yaml:"authorizePath"`
	TokenPath     string `yaml:"tokenPath"`
	LogoutPath    string `yaml:"logoutPath"`
}
