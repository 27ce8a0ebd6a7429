package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordTooLong = errors.New("password is longer than 72 bytes")

// Hash compared against when the login names no user, so both paths cost one bcrypt compare
var unknownUserHash, _ = bcrypt.GenerateFromPassword([]byte("studiobook-unknown-user"), bcrypt.DefaultCost)

// HashPassword hashes a member password for storage
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches the stored hash. An empty hash (unknown user)
// never matches.
func CheckPassword(hashed, password string) bool {
	if hashed == "" {
		bcrypt.CompareHashAndPassword(unknownUserHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
