package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims defines the payload of our JWT. ParticipantID is the identity used by
// matchmaking.
type Claims struct {
	ParticipantID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secret   []byte
	duration time.Duration
}

func NewTokenService(secret string, duration time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		duration: duration,
	}
}

// Issue creates a signed token for participantID.
func (s *TokenService) Issue(participantID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   participantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		return "", err
	}
	return tokenString, nil
}

// Verify checks signature and expiry and returns the participant id. Any failure,
// including an empty token, is reported as ErrUnauthorized.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.ParticipantID == "" {
		return "", fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	return claims.ParticipantID, nil
}
