// Package jwt реализует генерацию и парсинг JWT токенов, которые dev-бэкенд выдаёт клиенту.
//
// Maker определяет интерфейс для создания и проверки пары access/refresh токенов.
// MakerImpl — конкретная реализация с использованием секретного ключа и отдельных TTL.
package jwt

import (
	"time"
)

// Kind — назначение токена.
type Kind string

const (
	// Access — токен доступа к API.
	Access Kind = "access"
	// Refresh — токен для получения новой пары.
	Refresh Kind = "refresh"
)

// Maker описывает интерфейс для генерации и парсинга JWT токенов.
type Maker interface {
	// GenerateToken создаёт токен заданного вида и возвращает момент его истечения.
	GenerateToken(userID, provider string, kind Kind) (string, time.Time, error)
	// ParseToken проверяет подпись, срок и вид токена.
	ParseToken(tokenStr string, kind Kind) (*CustomClaims, error)
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токенов (TTL).
type MakerImpl struct {
	secretKey  string        // Секретный ключ для подписи токенов.
	accessTTL  time.Duration // Время жизни access токена.
	refreshTTL time.Duration // Время жизни refresh токена.
	now        func() time.Time
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, accessTTL, refreshTTL time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey:  secretKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (j *MakerImpl) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return j.refreshTTL
	}
	return j.accessTTL
}
