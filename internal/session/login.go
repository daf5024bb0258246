package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/pkce-session-manager/internal/pkce"
	"github.com/openkcm/pkce-session-manager/internal/tenant"
)

// LoginBuilder starts authorization round trips.
type LoginBuilder struct {
	repo     Repository
	pkce     pkce.Source
	proofTTL time.Duration
	now      func() time.Time
}

// BuildLoginRedirect generates fresh proof material, persists it for the
// scope and returns the authorization endpoint URL. A pending attempt of the
// same scope is replaced. The caller navigates.
func (b *LoginBuilder) BuildLoginRedirect(ctx context.Context, t tenant.Config, scope Scope) (string, error) {
	material, err := b.pkce.Material()
	if err != nil {
		return "", fmt.Errorf("generating proof material: %w", err)
	}

	proof := Proof{
		Verifier: material.Verifier,
		State:    material.State,
		Expiry:   b.now().Add(b.proofTTL),
	}

	if err := b.repo.StoreProof(ctx, scope, proof); err != nil {
		return "", fmt.Errorf("storing proof material: %w", err)
	}

	slogctx.Debug(ctx, "Stored proof material for a new login attempt")

	return oauth2Config(t).AuthCodeURL(material.State, oauth2.S256ChallengeOption(material.Verifier)), nil
}
