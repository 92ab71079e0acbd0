package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// LegacyClaims are the claims of a legacy Cognito-issued id token.
type LegacyClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// LegacyValidator verifies id tokens issued by the legacy Cognito user pool.
// It sits behind the same verify interface as the session service so older
// peers can keep registering with the password flow.
type LegacyValidator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewLegacyValidator registers the pool's JWKS endpoint with a refreshing
// cache and fetches the keys once to ensure connectivity.
func NewLegacyValidator(ctx context.Context, region, userPoolID, appClientID string, regOpts ...jwk.RegisterOption) (*LegacyValidator, error) {
	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
	jwksURL := issuer + "/.well-known/jwks.json"

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register JWKS URL in cache: %w", err)
	}

	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch initial JWKS: %w", err)
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
			return nil, fmt.Errorf("get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &LegacyValidator{
		keyFunc:  keyFunc,
		issuer:   issuer,
		audience: appClientID,
	}, nil
}

// ValidateToken parses and validates a legacy id token, returning its claims.
func (v *LegacyValidator) ValidateToken(tokenString string) (*LegacyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	return claims, nil
}
