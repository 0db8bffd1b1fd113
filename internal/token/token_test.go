package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticLookup(secret []byte) SecretLookup {
	return func(context.Context, string) ([]byte, error) {
		return secret, nil
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	expiresAt := time.Now().Add(10 * time.Minute)

	tok, err := Issue("sess-1", secret, expiresAt)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	v, err := Verify(context.Background(), tok, staticLookup(secret))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", v.SessionID)
	assert.WithinDuration(t, expiresAt, v.ExpiresAt, time.Second)
}

func TestVerify_Expired(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	tok, err := Issue("sess-1", secret, time.Now().Add(-time.Second))
	require.NoError(t, err)

	_, err = Verify(context.Background(), tok, staticLookup(secret))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_StaleSecret(t *testing.T) {
	// A token signed under a previous session's secret must fail even
	// though it is otherwise well-formed and unexpired.
	oldSecret := []byte("old-secret-old-secret-old-secret")
	tok, err := Issue("sess-1", oldSecret, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	current := []byte("new-secret-new-secret-new-secret")
	_, err = Verify(context.Background(), tok, staticLookup(current))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := Verify(context.Background(), tok, staticLookup([]byte("x")))
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestVerify_LookupFailure(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	tok, err := Issue("sess-1", secret, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	lookup := func(context.Context, string) ([]byte, error) {
		return nil, errors.New("session not found")
	}
	_, err = Verify(context.Background(), tok, lookup)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPeekSessionID(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	tok, err := Issue("sess-42", secret, time.Now().Add(time.Minute))
	require.NoError(t, err)

	// Peek works without the secret, including on expired tokens.
	sid, err := PeekSessionID(tok)
	require.NoError(t, err)
	assert.Equal(t, "sess-42", sid)

	_, err = PeekSessionID("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
