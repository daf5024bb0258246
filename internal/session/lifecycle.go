package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

// TokenLifecycle tracks expiry of token records and renews them.
type TokenLifecycle struct {
	repo   Repository
	tokens *tokenClient
	meters *meters
	skew   time.Duration
	now    func() time.Time
	flight singleflight.Group
}

// IsAuthenticated reports whether the scope holds an unexpired token record.
func (l *TokenLifecycle) IsAuthenticated(ctx context.Context, scope Scope) (bool, error) {
	record, err := l.repo.LoadToken(ctx, scope)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("loading token record: %w", err)
	}

	return record.ValidAt(l.now()), nil
}

// CurrentAccessToken returns a usable access token. Inside the skew window it
// refreshes once before answering. A failed refresh clears the record and the
// answer is absent.
func (l *TokenLifecycle) CurrentAccessToken(ctx context.Context, t tenant.Config, scope Scope) (string, bool, error) {
	record, err := l.repo.LoadToken(ctx, scope)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("loading token record: %w", err)
	}

	if !l.expiring(record) {
		return record.AccessToken, true, nil
	}

	res, err := l.refreshShared(ctx, t, scope, false)
	if err != nil {
		return "", false, err
	}

	switch res.Outcome {
	case Refreshed:
		return res.Token.AccessToken, true, nil
	case NoRefreshToken:
		if record.ValidAt(l.now()) {
			return record.AccessToken, true, nil
		}

		if err := l.repo.DeleteToken(ctx, scope); err != nil {
			return "", false, fmt.Errorf("clearing expired token record: %w", err)
		}

		return "", false, nil
	default:
		return "", false, nil
	}
}

// Refresh redeems the stored refresh token. Any failure clears the record.
func (l *TokenLifecycle) Refresh(ctx context.Context, t tenant.Config, scope Scope) (RefreshResult, error) {
	return l.refreshShared(ctx, t, scope, true)
}

// refreshShared funnels concurrent refreshes of one scope into a single
// token endpoint request. Callers joining a flight share its result. Callers
// arriving after a refresh completed see the renewed record and skip the
// request unless forced.
//
// The flight runs detached from the cancellation of whichever caller started
// it. A caller whose context ends stops waiting but the refresh completes for
// the others. The token client still bounds the request with its timeout.
func (l *TokenLifecycle) refreshShared(ctx context.Context, t tenant.Config, scope Scope, force bool) (RefreshResult, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := l.flight.DoChan(scope.String(), func() (any, error) {
		return l.refresh(flightCtx, t, scope, force)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}

		if res.Shared {
			slogctx.Debug(ctx, "Joined an in-flight token refresh")
		}

		return res.Val.(RefreshResult), nil
	}
}

func (l *TokenLifecycle) refresh(ctx context.Context, t tenant.Config, scope Scope, force bool) (RefreshResult, error) {
	record, err := l.repo.LoadToken(ctx, scope)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return RefreshResult{Outcome: NoRefreshToken}, nil
	}

	if err != nil {
		return RefreshResult{}, fmt.Errorf("loading token record: %w", err)
	}

	if !force && !l.expiring(record) {
		return RefreshResult{Outcome: Refreshed, Token: record}, nil
	}

	if record.RefreshToken == "" {
		l.meters.refresh(ctx, scope, NoRefreshToken)
		return RefreshResult{Outcome: NoRefreshToken}, nil
	}

	renewed, err := l.tokens.refresh(ctx, t, record.RefreshToken)
	if err != nil {
		reason := failureReason(err)
		slogctx.Warn(ctx, "Failed to refresh the token; clearing the session", "reason", reason, "error", err)
		l.meters.refresh(ctx, scope, RefreshFailed)

		if err := l.repo.DeleteToken(ctx, scope); err != nil {
			return RefreshResult{}, fmt.Errorf("clearing token record after failed refresh: %w", err)
		}

		return RefreshResult{Outcome: RefreshFailed, Reason: reason}, nil
	}

	merged := record.merge(renewed)
	if err := l.repo.StoreToken(ctx, scope, merged); err != nil {
		return RefreshResult{}, fmt.Errorf("storing refreshed token record: %w", err)
	}

	slogctx.Info(ctx, "Refreshed the access token")
	l.meters.refresh(ctx, scope, Refreshed)

	return RefreshResult{Outcome: Refreshed, Token: merged}, nil
}

// expiring reports whether the record is inside the skew window.
func (l *TokenLifecycle) expiring(r TokenRecord) bool {
	return !r.ExpiresAt.After(l.now().Add(l.skew))
}
