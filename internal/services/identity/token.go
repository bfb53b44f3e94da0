package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims is the slice of the external auth issuer's token the core cares
// about: who the caller is and until when the token holds.
type Claims struct {
	UserID    int64
	ExpiresAt time.Time
}

// TokenManager validates HS256 tokens minted by the external auth service.
// The core never issues tokens to clients; Generate exists for service
// tooling and tests.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *TokenManager) Generate(userID int64) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token secret is empty")
	}
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid token subject")
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

func (m *TokenManager) Parse(raw string) (Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return Claims{}, ErrUnauthorized
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithTimeFunc(m.now))
	if err != nil || token == nil || !token.Valid {
		return Claims{}, ErrUnauthorized
	}

	userID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil || userID <= 0 {
		return Claims{}, ErrUnauthorized
	}
	if claims.ExpiresAt == nil {
		return Claims{}, ErrUnauthorized
	}

	return Claims{
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
