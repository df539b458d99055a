// Package models содержит доменные структуры сессии и подписки:
// учётные данные, пользователя, подписку, продукты каталога и транзакции платёжного провайдера.
package models

import (
	"fmt"
	"time"
)

// Provider — OAuth-провайдер, через которого выполнен вход.
type Provider string

const (
	ProviderApple  Provider = "apple"
	ProviderWeChat Provider = "wechat"
	ProviderAlipay Provider = "alipay"
)

// ParseProvider разбирает строковое имя провайдера.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderApple, ProviderWeChat, ProviderAlipay:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Credential — учётные данные текущего пользователя, выданные бэкендом.
// Хранится целиком: при обновлении заменяется новой записью.
type Credential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Provider     Provider  `json:"provider"`
}

// Expired сообщает, истёк ли access токен к моменту now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ProviderCredential — результат входа через OAuth-провайдера до обмена на бэкенде.
type ProviderCredential struct {
	Provider    Provider `json:"provider" validate:"required"`
	AuthCode    string   `json:"code" validate:"required"`
	IDToken     string   `json:"id_token,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}
