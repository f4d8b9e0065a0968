package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestInspectOpaqueToken(t *testing.T) {
	identity, err := Credential("not-a-jwt").Inspect(epoch)
	require.NoError(t, err)
	require.Empty(t, identity.User.ID)
	require.Nil(t, identity.ExpiresAt)
}

func TestInspectBlankToken(t *testing.T) {
	_, err := Credential("   ").Inspect(epoch)
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestInspectExpiry(t *testing.T) {
	valid := signedToken(t, jwt.MapClaims{"user_id": float64(7), "username": "ada", "exp": epoch.Add(time.Minute).Unix()})
	identity, err := valid.Inspect(epoch)
	require.NoError(t, err)
	require.Equal(t, "7", identity.User.ID)
	require.Equal(t, "ada", identity.User.DisplayName)
	require.NotNil(t, identity.ExpiresAt)

	_, err = valid.Inspect(epoch.Add(time.Minute))
	require.ErrorIs(t, err, ErrCredentialExpired)
}
