package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	tok, err := svc.Generate("op-1", "op@example.com", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.Equal(t, "op-1", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestJWT_Rejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	other := NewJWTService("other", 1)
	tok, err := other.Generate("op-1", "", RoleViewer)
	require.NoError(t, err)

	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = svc.Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "op-1"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := svc.Generate("op-1", "", RoleViewer)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
