// Package identity — провайдеры входа. Static выдаёт заранее настроенный код авторизации
// вместо реального OAuth-обмена и используется в разработке и тестах.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// ErrUserCancelled — пользователь закрыл окно входа.
var ErrUserCancelled = errors.New("sign-in cancelled by user")

// Static — провайдер с фиксированным кодом. Пустой код означает отказ пользователя.
type Static struct {
	provider    models.Provider
	code        string
	displayName string
	email       string
}

// NewStatic создаёт провайдер provider, выдающий код code.
func NewStatic(provider models.Provider, code, displayName, email string) *Static {
	return &Static{
		provider:    provider,
		code:        code,
		displayName: displayName,
		email:       email,
	}
}

// SignIn возвращает учётные данные провайдера.
func (s *Static) SignIn(ctx context.Context) (*models.ProviderCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.code == "" {
		return nil, ErrUserCancelled
	}
	return &models.ProviderCredential{
		Provider:    s.provider,
		AuthCode:    s.code,
		Email:       s.email,
		DisplayName: s.displayName,
	}, nil
}

// Provider возвращает вид провайдера.
func (s *Static) Provider() models.Provider {
	return s.provider
}

// FromCodes строит статические провайдеры из пар "провайдер: код" конфига.
func FromCodes(codes map[string]string) ([]*Static, error) {
	const op = "identity.FromCodes"

	names := make([]string, 0, len(codes))
	for name := range codes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Static, 0, len(codes))
	for _, name := range names {
		p, err := models.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, NewStatic(p, codes[name], "", ""))
	}
	return out, nil
}
