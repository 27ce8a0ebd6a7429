package security

import (
	"studiobook/db"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	for _, tokenType := range []TokenType{AccessToken, RefreshToken} {
		token, err := service.CreateToken(42, db.Staff, tokenType)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		result, err := service.VerifyToken(token)
		require.NoError(t, err)
		require.Equal(t, uint(42), result.ID)
		require.Equal(t, db.Staff, result.Role)
		require.Equal(t, tokenType, result.TokenType)
		require.Equal(t, "42", result.Subject)
	}
}

func TestTokenInvalid(t *testing.T) {
	_, err := service.CreateToken(1, db.Member, "bogus")
	require.Error(t, err)

	// Signed with another key
	other := NewJWTService([]byte("OTHER-KEY"), time.Minute)
	token, err := other.CreateToken(1, db.Member, AccessToken)
	require.NoError(t, err)
	_, err = service.VerifyToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	// Expired beyond the leeway
	expired := NewJWTService(secretKey, -time.Minute)
	token, err = expired.CreateToken(1, db.Member, AccessToken)
	require.NoError(t, err)
	_, err = service.VerifyToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	// Unknown role
	token, err = service.CreateToken(1, db.Role("admin"), AccessToken)
	require.NoError(t, err)
	_, err = service.VerifyToken(token)
	require.Error(t, err)
}
