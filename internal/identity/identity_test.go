package identity

import (
	"testing"
	"time"

	"github.com/glidestudio/glide/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.Config{IdentityJWTSecret: testSecret})
	require.NoError(t, err)
	return v
}

func mint(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t)

	token := mint(t, testSecret, jwt.MapClaims{
		"sub":         "auth0|abc",
		"email":       "user@example.com",
		"given_name":  " Ada ",
		"family_name": "Lovelace",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "auth0|abc", id.SubjectID)
	assert.Equal(t, "user@example.com", id.Email)
	assert.Equal(t, "Ada", id.GivenName)
	assert.Equal(t, "Lovelace", id.FamilyName)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Wrong signing key.
	forged := mint(t, "other-secret", jwt.MapClaims{
		"sub": "mallory",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	expired := mint(t, testSecret, jwt.MapClaims{
		"sub": "auth0|abc",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Missing subject.
	anonymous := mint(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNonHMACAlgorithm(t *testing.T) {
	v := newTestVerifier(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "mallory",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityContext(t *testing.T) {
	id := Identity{SubjectID: "auth0|abc"}
	ctx := WithIdentity(t.Context(), id)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = FromContext(t.Context())
	assert.False(t, ok)
}
