package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access vs refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

const issuer = "chatwire"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrWrongType    = errors.New("auth: not an access token")
)

// Claims represents the JWT claims issued by the account service
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64     `json:"uid"`
	Username string    `json:"username"`
	Type     TokenType `json:"type"`
}

// TokenService validates access tokens. Tokens are issued by the REST
// service with the same signing key; GenerateAccessToken exists for tools and tests.
type TokenService struct {
	signingKey     []byte
	accessTokenTTL time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(signingKey string) (*TokenService, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 characters")
	}
	return &TokenService{
		signingKey:     []byte(signingKey),
		accessTokenTTL: 24 * time.Hour,
	}, nil
}

// GenerateAccessToken creates an access token for userID
func (s *TokenService) GenerateAccessToken(userID int64, username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		UserID:   userID,
		Username: username,
		Type:     TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateAccessToken parses and validates an access token
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongType
	}

	return claims, nil
}

// AccessTokenTTL returns the access token duration
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}
