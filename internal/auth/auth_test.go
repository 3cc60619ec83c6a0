package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueVerify(t *testing.T) {
	token, err := Issue(secret, "alice", time.Hour, "poster-1")
	require.NoError(t, err)

	claims, err := Verify(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.True(t, claims.Allows("poster-1"))
	assert.False(t, claims.Allows("poster-2"))
	require.NotNil(t, claims.ExpiresAt)
}

func TestIssue_NoScenesAllowsAll(t *testing.T) {
	token, err := Issue(secret, "bob", 0)
	require.NoError(t, err)
	claims, err := Verify(secret, token)
	require.NoError(t, err)
	assert.True(t, claims.Allows("anything"))
	assert.Nil(t, claims.ExpiresAt)
}

func TestVerify_Rejects(t *testing.T) {
	good, err := Issue(secret, "alice", time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("another-secret-another-secret-00"), good)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify(secret, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	expiredStr, err := expired.SignedString(secret)
	require.NoError(t, err)
	_, err = Verify(secret, expiredStr)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}})
	foreignStr, err := foreign.SignedString(secret)
	require.NoError(t, err)
	_, err = Verify(secret, foreignStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssue_Validation(t *testing.T) {
	_, err := Issue(nil, "alice", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
	_, err = Issue(secret, "", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySubject)
	_, err = Verify(nil, "x")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
