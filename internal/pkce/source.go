// Package pkce produces the proof-of-possession material of an authorization
// round trip: the code verifier, its S256 challenge and the anti-replay state.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

const (
	MethodS256 = "S256"

	// verifierBytes encodes to 43 base64url characters, the RFC 7636 minimum.
	// 96 bytes would give the maximum of 128.
	verifierBytes = 32
	stateBytes    = 32
)

// Material is the proof of possession for a single login attempt.
type Material struct {
	Verifier  string
	Challenge string
	Method    string
	State     string
}

// Source generates proof material. The zero value reads from crypto/rand.
type Source struct {
	// Rand overrides the randomness source. Only tests should set it.
	Rand io.Reader
}

func (p Source) randBytes(n int) ([]byte, error) {
	r := p.Rand
	if r == nil {
		r = rand.Reader
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("reading %d random bytes: %w", n, err)
	}

	return b, nil
}

// Verifier returns a fresh URL-safe code verifier of 43 characters.
func (p Source) Verifier() (string, error) {
	b, err := p.randBytes(verifierBytes)
	if err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge derives the S256 code challenge of a verifier.
func (p Source) Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// State returns a fresh URL-safe anti-replay state.
func (p Source) State() (string, error) {
	b, err := p.randBytes(stateBytes)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Material generates a complete, independent set of proof material.
func (p Source) Material() (Material, error) {
	verifier, err := p.Verifier()
	if err != nil {
		return Material{}, err
	}

	state, err := p.State()
	if err != nil {
		return Material{}, err
	}

	return Material{
		Verifier:  verifier,
		Challenge: p.Challenge(verifier),
		Method:    MethodS256,
		State:     state,
	}, nil
}
