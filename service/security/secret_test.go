package security

import (
	"strings"
	"studiobook/util"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	password := util.RandomString(10)

	hashed, err := HashPassword(password)
	require.NoError(t, err)
	require.NotEqual(t, password, hashed)

	require.True(t, CheckPassword(hashed, password))
	require.False(t, CheckPassword(hashed, password+"x"))
	require.False(t, CheckPassword("", password))

	_, err = HashPassword(strings.Repeat("a", 73))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}
