package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	}))
	return privPEM, pubPEM
}

func newTestSessionService(t *testing.T) *SessionService {
	t.Helper()
	priv, pub := testKeyPair(t)
	svc, err := NewSessionService(priv, pub)
	require.NoError(t, err)
	return svc
}

func TestIssueAndVerifySessionToken(t *testing.T) {
	svc := newTestSessionService(t)

	token, expiresAt, err := svc.IssueSessionToken("github:42", "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(svc.TokenTTL()), expiresAt, time.Minute)

	claims, err := svc.VerifySessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "github:42", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, ServiceName, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc := newTestSessionService(t)

	token, _, err := svc.IssueSessionToken("github:42", "alice")
	require.NoError(t, err)

	// Flip a character of the payload segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = svc.VerifySessionToken(tampered)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	svc := newTestSessionService(t)
	other := newTestSessionService(t)

	token, _, err := other.IssueSessionToken("github:42", "alice")
	require.NoError(t, err)

	_, err = svc.VerifySessionToken(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsWrongIssuerAndAudience(t *testing.T) {
	priv, pub := testKeyPair(t)
	svc, err := NewSessionService(priv, pub)
	require.NoError(t, err)

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(priv))
	require.NoError(t, err)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "github:42",
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{ServiceName},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = svc.VerifySessionToken(signed)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	priv, pub := testKeyPair(t)
	svc, err := NewSessionService(priv, pub)
	require.NoError(t, err)

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(priv))
	require.NoError(t, err)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "github:42",
			Issuer:    ServiceName,
			Audience:  jwt.ClaimStrings{ServiceName},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = svc.VerifySessionToken(signed)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsHMACToken(t *testing.T) {
	svc := newTestSessionService(t)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "github:42",
			Issuer:    ServiceName,
			Audience:  jwt.ClaimStrings{ServiceName},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.VerifySessionToken(signed)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
