package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrWrongKind возвращается, если refresh токен предъявлен вместо access или наоборот.
var ErrWrongKind = errors.New("token kind mismatch")

// CustomClaims описывает пользовательские данные, хранящиеся в JWT.
type CustomClaims struct {
	Provider             string `json:"provider"` // Провайдер, через которого выполнен вход
	Kind                 Kind   `json:"kind"`     // access или refresh
	jwt.RegisteredClaims        // Subject — ID пользователя, ExpiresAt, IssuedAt, ID
}

// UserID возвращает идентификатор пользователя из Subject.
func (c *CustomClaims) UserID() string {
	return c.Subject
}

// GenerateToken создает JWT токен, подписывая его секретным ключом.
//
// Время жизни зависит от вида токена.
func (j *MakerImpl) GenerateToken(userID, provider string, kind Kind) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.ttl(kind))
	claims := CustomClaims{
		Provider: provider,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.GenerateToken: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken парсит JWT токен, проверяет его подпись, валидность и вид,
// возвращает CustomClaims с данными, если токен корректен.
func (j *MakerImpl) ParseToken(tokenStr string, kind Kind) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%s: %w", op, ErrWrongKind)
	}
	return claims, nil
}
