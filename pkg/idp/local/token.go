package local

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the claim set minted on local access tokens. The jti maps
// back to a server-side record so revocation is immediate.
type accessClaims struct {
	jwt.RegisteredClaims
	Scope             string `json:"scope,omitempty"`
	ClientID          string `json:"client_id"`
	SessionID         string `json:"sid"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

type tokenSigner struct {
	issuer string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

type mintParams struct {
	jti       string
	subject   string
	username  string
	clientID  string
	sessionID string
	scope     string
	ttl       time.Duration
}

func (s *tokenSigner) mint(p mintParams, now time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.subject,
			Audience:  jwt.ClaimStrings{p.clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        p.jti,
		},
		Scope:             p.scope,
		ClientID:          p.clientID,
		SessionID:         p.sessionID,
		PreferredUsername: p.username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// parse validates the signature and standard claims. Expired or malformed
// tokens return an error; callers decide whether that means inactive or a
// hard failure.
func (s *tokenSigner) parse(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.pub, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}
