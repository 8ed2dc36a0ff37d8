package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTClaims represents the access token claims
type JWTClaims struct {
	AccountID uuid.UUID `json:"sub"`
	Phone     string    `json:"telephone,omitempty"`
	jwt.RegisteredClaims
}

// AccessToken is a signed bearer credential and its validity window.
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresIn time.Duration
}

// JWTService handles JWT token operations
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service issuing tokens valid for ttl
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SignAccessToken creates a JWT access token for the account
func (s *JWTService) SignAccessToken(accountID uuid.UUID, phone string) (AccessToken, error) {
	now := s.now()
	claims := &JWTClaims{
		AccountID: accountID,
		Phone:     phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return AccessToken{Token: tokenString, TokenType: "Bearer", ExpiresIn: s.ttl}, nil
}

// VerifyToken verifies and parses a JWT token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
