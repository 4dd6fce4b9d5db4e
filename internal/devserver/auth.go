package devserver

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errSecretRequired     = errors.New("devserver: jwt secret required")
	errPasswordTooWeak    = errors.New("devserver: password must be at least 6 characters")
	errInvalidCredentials = errors.New("devserver: invalid credentials")
	errInvalidToken       = errors.New("devserver: invalid token")
)

type tokenService struct {
	secret []byte
	ttl    time.Duration
}

func newTokenService(secret string, ttl time.Duration) (*tokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &tokenService{secret: []byte(secret), ttl: ttl}, nil
}

func (s *tokenService) issue(userID int) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *tokenService) verify(token string) (int, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return 0, errInvalidToken
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return 0, errInvalidToken
	}
	return id, nil
}
