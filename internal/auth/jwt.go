package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

// TokenIssuer is the iss claim of session tokens minted for mobile clients
const TokenIssuer = "critterforge"

var ErrExpiredToken = errors.New("token expired")

// Claims represents the JWT claims of a mobile session token
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager handles session token creation and validation
type JWTManager struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// GenerateToken signs a token for a user that expires at expiresAt
func (m *JWTManager) GenerateToken(userID, email, role string, expiresAt time.Time) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    TokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a session token and returns its claims. Every
// failure is an apperr.ErrInvalidToken; expiry also matches ErrExpiredToken.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secretKey, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, "Session token expired", ErrExpiredToken)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, "Invalid session token", err)
	}
	if claims.UserID == "" {
		return nil, apperr.New(apperr.ErrInvalidToken, "Invalid session token")
	}
	return claims, nil
}

// IsSessionToken reports whether raw claims to be one of our own tokens.
// The signature is not checked here.
func IsSessionToken(raw string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return false
	}
	return claims.Issuer == TokenIssuer
}
