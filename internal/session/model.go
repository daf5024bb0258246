package session

import (
	"time"
)

// Scope identifies one tenant session: a tenant realm seen by one user agent.
// Sessions of different scopes never share records.
type Scope struct {
	Tenant string
	Agent  string
}

func (s Scope) String() string {
	return s.Tenant + ":" + s.Agent
}

// Proof is the persisted half of the proof-of-possession material of a
// pending login attempt. It is consumed by exactly one callback.
type Proof struct {
	Verifier string    `json:"verifier"`
	State    string    `json:"state"`
	Expiry   time.Time `json:"expiry"`
}

// TokenRecord is the credential set of an authenticated tenant session.
// It is always read and written as one unit.
type TokenRecord struct {
	AccessToken  string    `json:"accessToken"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ValidAt reports whether the access token has not expired at t.
func (r TokenRecord) ValidAt(t time.Time) bool {
	return r.AccessToken != "" && r.ExpiresAt.After(t)
}

// merge applies a refresh response. Fields the provider omitted keep their
// previous value.
func (r TokenRecord) merge(refreshed TokenRecord) TokenRecord {
	out := refreshed
	if out.RefreshToken == "" {
		out.RefreshToken = r.RefreshToken
	}

	if out.IDToken == "" {
		out.IDToken = r.IDToken
	}

	return out
}

type CallbackOutcome int

const (
	// CallbackNoCode means the URL carried no authorization code.
	CallbackNoCode CallbackOutcome = iota
	// CallbackRejected means the state did not match a pending login attempt.
	CallbackRejected
	CallbackExchanged
	CallbackExchangeFailed
)

func (o CallbackOutcome) String() string {
	switch o {
	case CallbackNoCode:
		return "no_code"
	case CallbackRejected:
		return "rejected"
	case CallbackExchanged:
		return "exchanged"
	case CallbackExchangeFailed:
		return "exchange_failed"
	default:
		return "unknown"
	}
}

type CallbackResult struct {
	Outcome CallbackOutcome
	// Token is set for CallbackExchanged.
	Token TokenRecord
	// Reason is set for CallbackExchangeFailed.
	Reason string
	// CleanURL is the incoming URL without code and state.
	CleanURL string
}

type RefreshOutcome int

const (
	Refreshed RefreshOutcome = iota + 1
	NoRefreshToken
	RefreshFailed
)

func (o RefreshOutcome) String() string {
	switch o {
	case Refreshed:
		return "refreshed"
	case NoRefreshToken:
		return "no_refresh_token"
	case RefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

type RefreshResult struct {
	Outcome RefreshOutcome
	// Token is set for Refreshed.
	Token  TokenRecord
	Reason string
}

type GateStatus int

const (
	Authenticated GateStatus = iota + 1
	RedirectToLogin
)

func (s GateStatus) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case RedirectToLogin:
		return "redirect_to_login"
	default:
		return "unknown"
	}
}

// Visit is one request for a protected view.
type Visit struct {
	Agent string
	// Hint selects the tenant. The URL is used when it is empty.
	Hint string
	URL  string
}

// GateResult is the answer to a Visit. LoginURL is only set for
// RedirectToLogin.
type GateResult struct {
	Status   GateStatus
	Scope    Scope
	Callback CallbackResult
	LoginURL string
}
