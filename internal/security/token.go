package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Параметры собственных токенов администратора.
const (
	// AdminTokenIssuer — issuer токенов, выпускаемых модулем
	AdminTokenIssuer = "share-module"
	// AdminSubject — единственный субъект администрирования
	AdminSubject = "admin"
)

// ErrEmptySecret — секрет подписи не задан.
var ErrEmptySecret = errors.New("секрет подписи токена не задан")

// IssueAdminToken выпускает HS256 токен администратора.
// Возвращает токен и момент его истечения.
func IssueAdminToken(secret []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}
	expiresAt := now.Add(ttl).UTC().Truncate(time.Second)

	claims := jwt.RegisteredClaims{
		Issuer:    AdminTokenIssuer,
		Subject:   AdminSubject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, expiresAt, nil
}
