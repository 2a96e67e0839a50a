// Пакет security — хэширование и проверка паролей файлов и администратора.
package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong — пароль длиннее допустимого для bcrypt.
var ErrPasswordTooLong = errors.New("пароль длиннее 72 байт")

// maxPasswordBytes — предел длины входа bcrypt.
const maxPasswordBytes = 72

// Hasher создаёт и проверяет односторонние verifier-ы паролей.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(verifier, password string) bool
}

// BcryptHasher — Hasher на основе bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создаёт BcryptHasher с указанной стоимостью.
// Стоимость вне диапазона bcrypt заменяется на bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash возвращает bcrypt-хэш пароля. Каждый вызов даёт новую соль.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(b), nil
}

// Verify проверяет пароль против verifier. Сравнение выполняется
// bcrypt за постоянное время; любая ошибка означает несовпадение.
func (h *BcryptHasher) Verify(verifier, password string) bool {
	if verifier == "" || len(password) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(password)) == nil
}
