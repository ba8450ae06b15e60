// Package platformauth verifies signed platform launch tokens attached to
// room:create frames when a room originates from the external GameBuddies
// platform rather than a direct player connection.
package platformauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// LaunchClaims is the payload of a platform launch token: which room the
// platform is originating, which player is the launching host, and which
// game plugin to host it under.
type LaunchClaims struct {
	RoomCode string `json:"roomCode,omitempty"`
	GameID   string `json:"gameId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies platform launch tokens against a JWKS endpoint, issuer,
// and audience.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewValidator builds a Validator backed by a refreshing JWKS cache at
// jwksURL. regOpts allows tests to override the refresh interval.
func NewValidator(ctx context.Context, jwksURL, issuer, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	if _, err := url.Parse(jwksURL); err != nil {
		return nil, fmt.Errorf("invalid jwks url: %w", err)
	}

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch initial jwks: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("read raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Validator{keyFunc: keyFunc, issuer: issuer, audience: audience}, nil
}

// ValidateToken parses and verifies a launch token string, returning its
// claims when the signature, issuer, and audience all check out.
func (v *Validator) ValidateToken(tokenString string) (*LaunchClaims, error) {
	parseOpts := []jwt.ParserOption{jwt.WithIssuer(v.issuer)}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &LaunchClaims{}, v.keyFunc, parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse launch token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("launch token is invalid")
	}

	claims, ok := token.Claims.(*LaunchClaims)
	if !ok {
		return nil, errors.New("unexpected launch token claims type")
	}
	if claims.RoomCode == "" {
		return nil, errors.New("launch token missing roomCode")
	}
	return claims, nil
}

// NoopValidator always rejects tokens. Used when the server has no JWKS URL
// configured, so unauthenticated platform rooms still flow through (per the
// backward-compatible room:create semantics) but a present platformToken is
// never silently trusted.
type NoopValidator struct{}

// ValidateToken always returns an error; platform token verification is not
// configured.
func (NoopValidator) ValidateToken(string) (*LaunchClaims, error) {
	return nil, errors.New("platform token validation not configured")
}

// TokenValidator is implemented by both Validator and NoopValidator so
// callers can depend on the interface rather than a concrete type.
type TokenValidator interface {
	ValidateToken(tokenString string) (*LaunchClaims, error)
}
