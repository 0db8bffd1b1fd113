// Package token issues and verifies the signed, session-bound credential
// embedded in the QR code. Each session signs with its own secret, so a
// token minted for an earlier session over the same course can never be
// replayed against a new one.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken means the token is malformed, unsigned, or signed
	// under a secret that is not the session's current one.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenExpired means the token was well-formed but is past its expiry.
	ErrTokenExpired = errors.New("session token expired")
)

// SecretLookup resolves the current signing secret for a session. It is
// expected to consult the session store; an unknown session returns an error.
type SecretLookup func(ctx context.Context, sessionID string) ([]byte, error)

// Claims is the JWT payload carried inside the QR code.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Verified is the decoded result of a successful verification.
type Verified struct {
	SessionID string
	ExpiresAt time.Time
}

// Issue signs a token for sessionID valid until expiresAt.
func Issue(sessionID string, secret []byte, expiresAt time.Time) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// PeekSessionID decodes the claimed session id without verifying the
// signature. Used to attribute a failed verification to a session ledger;
// never trust the result for anything else.
func PeekSessionID(tokenStr string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

// Verify validates tokenStr and returns the embedded session binding. The
// signing secret is looked up per session through lookup, so a token signed
// under a stale or rotated secret fails with ErrInvalidToken even when its
// shape and expiry are otherwise fine.
func Verify(ctx context.Context, tokenStr string, lookup SecretLookup) (Verified, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		claims, ok := t.Claims.(*Claims)
		if !ok || claims.SessionID == "" {
			return nil, errors.New("missing session id")
		}
		return lookup(ctx, claims.SessionID)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Verified{}, ErrTokenExpired
		}
		return Verified{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" || claims.ExpiresAt == nil {
		return Verified{}, ErrInvalidToken
	}
	return Verified{SessionID: claims.SessionID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
