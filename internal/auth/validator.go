// Package auth validates the bearer token every WebSocket and SSE
// attach presents (spec §6.1: "Both endpoints require a valid session
// token; on reject they respond with HTTP 401"). It is deliberately
// thin: HTTP/auth issuance is out of scope (spec §1); this package only
// covers what the connection layer needs — a token in, claims out.
//
// Grounded on the teacher's auth.Validator: a JWKS-backed jwt.Keyfunc
// resolved by "kid", cached and periodically refreshed, with issuer and
// audience pinned at construction.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Claims is the subset of a validated token the real-time core needs:
// the player id (subject) and the admin flag spec §3 calls out
// ("is_admin: boolean"). Anything else a token carries is not this
// package's concern.
type Claims struct {
	Scope   string `json:"scope"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// PlayerID returns the token subject as a player id.
func (c *Claims) PlayerID() string { return c.Subject }

// Validator is the capability the transport layer needs over an
// incoming bearer token.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// JWKSValidator validates tokens against a domain's published JWKS,
// refreshed on an interval and cached between validations.
type JWKSValidator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewJWKSValidator registers the JWKS endpoint for domain and performs
// one synchronous fetch to confirm connectivity before returning.
func NewJWKSValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSValidator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &JWKSValidator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: []string{audience},
	}, nil
}

// ValidateToken parses and validates tokenString against the cached
// JWKS, issuer, and audience, returning the trimmed Claims on success.
func (v *JWKSValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience[0]),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	return claims, nil
}

// SharedSecretValidator validates HS256 tokens against a single shared
// secret, used in development/SKIP_AUTH deployments where standing up a
// JWKS endpoint is unnecessary overhead.
type SharedSecretValidator struct {
	secret []byte
}

// NewSharedSecretValidator constructs a validator over a symmetric
// signing secret (spec §6.5's JWT_SECRET).
func NewSharedSecretValidator(secret string) *SharedSecretValidator {
	return &SharedSecretValidator{secret: []byte(secret)}
}

func (v *SharedSecretValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	return claims, nil
}
