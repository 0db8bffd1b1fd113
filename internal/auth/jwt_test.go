package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParse_RoundTrip(t *testing.T) {
	pair, err := Issue("rep-1", RoleRepresentative, "qrattend", "test-key", time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, "test-key", "qrattend")
	require.NoError(t, err)
	assert.Equal(t, "rep-1", claims.Subject)
	assert.Equal(t, RoleRepresentative, claims.Role)
}

func TestIssue_UnknownRole(t *testing.T) {
	_, err := Issue("u1", "admin", "qrattend", "test-key", time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestParse_Failures(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "qrattend", "test-key", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "wrong-key", "qrattend")
	assert.Error(t, err)

	_, err = Parse(pair.AccessToken, "test-key", "other-issuer")
	assert.Error(t, err)

	_, err = Parse("garbage", "test-key", "qrattend")
	assert.Error(t, err)
}
