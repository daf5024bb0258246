package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

// CallbackHandler validates redirect callbacks and exchanges their code.
type CallbackHandler struct {
	repo   Repository
	tokens *tokenClient
	audit  *otlpaudit.AuditLogger
	meters *meters
	now    func() time.Time
	locks  keyedMutex
}

// HandleCallback consumes the code and state of an incoming redirect URL.
//
// Proof material of the scope is single use: it is taken from the store in
// one step before the code is redeemed, so a repeated invocation, in this
// process or another one sharing the store, finds nothing to match and is
// rejected. Invocations for one scope in this process run one at a time. The
// returned error is reserved for an unavailable store and for a caller that
// gave up waiting.
func (h *CallbackHandler) HandleCallback(ctx context.Context, t tenant.Config, scope Scope, incoming string) (CallbackResult, error) {
	u, err := url.Parse(incoming)
	if err != nil {
		return CallbackResult{Outcome: CallbackNoCode, CleanURL: incoming}, nil
	}

	q := u.Query()
	code := q.Get("code")
	if code == "" {
		return CallbackResult{Outcome: CallbackNoCode, CleanURL: incoming}, nil
	}

	state := q.Get("state")
	cleanURL := stripCallbackParams(u)

	unlock, err := h.locks.Lock(ctx, scope.String())
	if err != nil {
		return CallbackResult{}, fmt.Errorf("waiting for a concurrent callback: %w", err)
	}
	defer unlock()

	// Taking the proof consumes it whatever the verdict.
	proof, err := h.repo.TakeProof(ctx, scope)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		proof = Proof{}
	case err != nil:
		return CallbackResult{}, fmt.Errorf("taking proof material: %w", err)
	}

	if !proof.matches(state, h.now()) {
		slogctx.Warn(ctx, "Rejected an authorization callback", "event", "callback_rejected")
		h.auditLoginFailure(ctx, scope, "callback rejected")
		h.meters.callback(ctx, scope, CallbackRejected)

		return CallbackResult{Outcome: CallbackRejected, CleanURL: cleanURL}, nil
	}

	record, err := h.tokens.exchange(ctx, t, code, proof.Verifier)
	if err != nil {
		reason := failureReason(err)
		slogctx.Warn(ctx, "Failed to exchange the authorization code", "reason", reason, "error", err)
		h.auditLoginFailure(ctx, scope, "code exchange failed")
		h.meters.callback(ctx, scope, CallbackExchangeFailed)

		return CallbackResult{Outcome: CallbackExchangeFailed, Reason: reason, CleanURL: cleanURL}, nil
	}

	if err := h.repo.StoreToken(ctx, scope, record); err != nil {
		return CallbackResult{}, fmt.Errorf("storing token record: %w", err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")
	h.auditLoginSuccess(ctx, scope)
	h.meters.callback(ctx, scope, CallbackExchanged)

	return CallbackResult{Outcome: CallbackExchanged, Token: record, CleanURL: cleanURL}, nil
}

// matches compares the returned state with the persisted one in constant time.
// Missing material never matches.
func (p Proof) matches(state string, now time.Time) bool {
	if p.Verifier == "" || p.State == "" || state == "" {
		return false
	}

	if !p.Expiry.IsZero() && !now.Before(p.Expiry) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(p.State), []byte(state)) == 1
}

func stripCallbackParams(u *url.URL) string {
	clean := *u
	q := clean.Query()
	q.Del("code")
	q.Del("state")
	clean.RawQuery = q.Encode()

	return clean.String()
}
