// Package identity resolves the requesting connector's identity and
// attested security profile from its dynamic attribute token (DAT).
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datasphere-labs/connector/pkg/policy"
)

// Identity is a verified connector identity.
type Identity struct {
	ConnectorID string
	Profile     policy.Profile
}

// Provider supplies the identity of the current requester.
type Provider interface {
	Current(ctx context.Context) (Identity, error)
}

// Static is a fixed-identity Provider, used for outbound self-identity
// and in tests.
type Static struct {
	ID Identity
}

func (s Static) Current(context.Context) (Identity, error) {
	return s.ID, nil
}

// DATClaims are the claims carried by a dynamic attribute token.
type DATClaims struct {
	jwt.RegisteredClaims
	ReferringConnector string `json:"referringConnector"`
	SecurityProfile    string `json:"securityProfile"`
}

// TokenVerifier validates DATs and extracts the requester identity.
type TokenVerifier struct {
	keyFunc jwt.Keyfunc
}

// NewTokenVerifier creates a verifier over the given key resolution
// function (typically backed by the identity provider's JWKS).
func NewTokenVerifier(keyFunc jwt.Keyfunc) *TokenVerifier {
	return &TokenVerifier{keyFunc: keyFunc}
}

// Verify parses and validates a DAT, returning the asserted identity.
func (v *TokenVerifier) Verify(tokenStr string) (Identity, error) {
	claims := &DATClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: token validation failed: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("identity: invalid token")
	}
	if claims.ReferringConnector == "" {
		return Identity{}, fmt.Errorf("identity: token names no connector")
	}
	return Identity{
		ConnectorID: claims.ReferringConnector,
		Profile:     normalizeProfile(claims.SecurityProfile),
	}, nil
}

// normalizeProfile strips the idsc: prefix some identity providers emit.
// Unknown profiles pass through and rank below base at evaluation time.
func normalizeProfile(raw string) policy.Profile {
	return policy.Profile(strings.TrimPrefix(raw, "idsc:"))
}
