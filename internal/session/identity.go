package session

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Identity holds display claims of an ID token. The token signature is not
// verified, so nothing here may be used for authorization decisions.
type Identity struct {
	Subject  string
	Email    string
	Name     string
	Username string
}

var idTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

func parseIdentity(idToken string) (Identity, error) {
	token, err := jwt.ParseSigned(idToken, idTokenAlgorithms)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing id token: %w", err)
	}

	type customClaims struct {
		Email           string `json:"email"`
		Name            string `json:"name"`
		PreferredName   string `json:"preferred_username"`
		CognitoUsername string `json:"cognito:username"`
	}

	var standard jwt.Claims
	var custom customClaims
	if err := token.UnsafeClaimsWithoutVerification(&standard, &custom); err != nil {
		return Identity{}, fmt.Errorf("reading id token claims: %w", err)
	}

	username := custom.PreferredName
	if username == "" {
		username = custom.CognitoUsername
	}

	return Identity{
		Subject:  standard.Subject,
		Email:    custom.Email,
		Name:     custom.Name,
		Username: username,
	}, nil
}
