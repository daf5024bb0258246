package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

var (
	errMalformedTokenResponse = errors.New("malformed token response")
	errTimeout                = errors.New("token endpoint timed out")
	errTransport              = errors.New("token endpoint unreachable")
)

// tokenClient talks to a tenant's token endpoint.
type tokenClient struct {
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

func oauth2Config(t tenant.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID: t.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   t.AuthorizeURL(),
			TokenURL:  t.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: t.RedirectTarget,
		Scopes:      t.Scope,
	}
}

func (c *tokenClient) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	return context.WithTimeout(ctx, c.timeout)
}

// exchange redeems an authorization code with grant type authorization_code.
func (c *tokenClient) exchange(ctx context.Context, t tenant.Config, code, verifier string) (TokenRecord, error) {
	ctx, cancel := c.context(ctx)
	defer cancel()

	tok, err := oauth2Config(t).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenRecord{}, c.wrap(ctx, err)
	}

	return c.record(tok)
}

// refresh redeems a refresh token with grant type refresh_token.
func (c *tokenClient) refresh(ctx context.Context, t tenant.Config, refreshToken string) (TokenRecord, error) {
	ctx, cancel := c.context(ctx)
	defer cancel()

	tok, err := oauth2Config(t).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return TokenRecord{}, c.wrap(ctx, err)
	}

	return c.record(tok)
}

// record converts a token response. The expiry is computed from expires_in
// on receipt.
func (c *tokenClient) record(tok *oauth2.Token) (TokenRecord, error) {
	secs := tok.ExpiresIn
	if secs == 0 {
		// form encoded responses only carry it in the raw values
		if raw, ok := tok.Extra("expires_in").(string); ok {
			secs, _ = strconv.ParseInt(raw, 10, 64)
		}
	}

	if secs <= 0 {
		return TokenRecord{}, fmt.Errorf("%w: expires_in missing", errMalformedTokenResponse)
	}

	idToken, _ := tok.Extra("id_token").(string)

	return TokenRecord{
		AccessToken:  tok.AccessToken,
		IDToken:      idToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(secs) * time.Second),
	}, nil
}

// wrap tags a token endpoint failure with its class. Anything that is neither
// a provider rejection, a timeout nor a failed round trip came back as a
// response the client could not use.
func (c *tokenClient) wrap(ctx context.Context, err error) error {
	var (
		rErr *oauth2.RetrieveError
		uErr *url.Error
	)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Join(errTimeout, err)
	case errors.As(err, &rErr):
		return err
	case errors.As(err, &uErr):
		return errors.Join(errTransport, err)
	default:
		return errors.Join(errMalformedTokenResponse, err)
	}
}

// failureReason turns a token endpoint failure into a short reason that
// carries no token material.
func failureReason(err error) string {
	var rErr *oauth2.RetrieveError
	switch {
	case errors.Is(err, errTimeout):
		return "timeout"
	case errors.As(err, &rErr):
		if rErr.ErrorCode != "" {
			return rErr.ErrorCode
		}

		if rErr.Response != nil {
			return fmt.Sprintf("status %d", rErr.Response.StatusCode)
		}

		return "rejected"
	case errors.Is(err, errMalformedTokenResponse):
		return "malformed_response"
	default:
		return "transport_error"
	}
}
