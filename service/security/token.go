package security

import (
	"fmt"
	"strconv"
	"studiobook/db"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT service
type JWTService struct {
	secretKey              []byte
	tokenExpiration        time.Duration
	refreshTokenExpiration time.Duration
}

// Custom type for token type
type TokenType string

const (
	Issuer = "studiobook"

	AccessToken  TokenType = "access-token"
	RefreshToken TokenType = "refresh-token"
)

// Custom claim definition
type CustomClaims struct {
	ID        uint      `json:"id"` // UserID
	Role      db.Role   `json:"role"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Constructor for JWT service. Refresh tokens live a week longer than access tokens.
func NewJWTService(secretKey []byte, tokenExpiration time.Duration) *JWTService {
	return &JWTService{
		secretKey:              secretKey,
		tokenExpiration:        tokenExpiration,
		refreshTokenExpiration: tokenExpiration + 7*24*time.Hour,
	}
}

// Create token
func (service *JWTService) CreateToken(id uint, role db.Role, tokenType TokenType) (string, error) {
	var expiration time.Duration
	switch tokenType {
	case AccessToken:
		expiration = service.tokenExpiration
	case RefreshToken:
		expiration = service.refreshTokenExpiration
	default:
		return "", fmt.Errorf("invalid token type")
	}

	now := time.Now()
	claims := CustomClaims{
		ID:        id,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   strconv.FormatUint(uint64(id), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(service.secretKey)
}

// Verify token
func (service *JWTService) VerifyToken(signedToken string) (*CustomClaims, error) {
	parser := jwt.NewParser(jwt.WithLeeway(30*time.Second), jwt.WithIssuer(Issuer))

	parsedToken, err := parser.ParseWithClaims(signedToken, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		// Check for signing method to avoid [alg: none] trick
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return service.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsedToken.Claims.(*CustomClaims)
	if !(ok && parsedToken.Valid) {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if claims.TokenType != AccessToken && claims.TokenType != RefreshToken {
		return nil, fmt.Errorf("invalid token type: %s", claims.TokenType)
	}

	if claims.Role != db.Member && claims.Role != db.Instructor && claims.Role != db.Staff {
		return nil, fmt.Errorf("invalid user role: %s", claims.Role)
	}

	return claims, nil
}
