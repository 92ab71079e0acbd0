// Package auth implements the credential engine: RS256 session tokens for
// interactive users, opaque API keys for headless workers, room OTP secrets,
// the OAuth code exchange, and the legacy Cognito-compatible validator.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceName is the issuer and audience pinned into every session token.
const ServiceName = "signaling"

// ErrUnauthenticated is returned for any credential that fails validation.
// Callers must not distinguish failure modes to the client beyond this.
var ErrUnauthenticated = errors.New("unauthenticated")

// SessionClaims are the signed claims of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// SessionService issues and verifies RS256-signed session tokens.
type SessionService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	tokenTTL   time.Duration
}

// NewSessionService parses the PEM keypair and returns a ready service.
func NewSessionService(privateKeyPEM, publicKeyPEM string) (*SessionService, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse session private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse session public key: %w", err)
	}

	return &SessionService{
		privateKey: priv,
		publicKey:  pub,
		tokenTTL:   7 * 24 * time.Hour,
	}, nil
}

// IssueSessionToken creates a signed session token for an authenticated user.
func (s *SessionService) IssueSessionToken(userID, username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    ServiceName,
			Audience:  jwt.ClaimStrings{ServiceName},
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return signed, expiresAt, nil
}

// VerifySessionToken validates signature, issuer, audience and expiry.
// The token body is never logged.
func (s *SessionService) VerifySessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.publicKey, nil
	},
		jwt.WithIssuer(ServiceName),
		jwt.WithAudience(ServiceName),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	return claims, nil
}

// TokenTTL returns the session token lifetime.
func (s *SessionService) TokenTTL() time.Duration {
	return s.tokenTTL
}
