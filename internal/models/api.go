package models

import "time"

// Платформа клиента в запросах к бэкенду.
const PlatformDevice = "device"

// AuthResponse — ответ бэкенда на обмен кода провайдера и обновление токена.
type AuthResponse struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Credential собирает учётные данные из ответа.
func (a AuthResponse) Credential() Credential {
	return Credential{
		UserID:       a.UserID,
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    a.TokenType,
		ExpiresAt:    a.ExpiresAt,
		Provider:     Provider(a.Provider),
	}
}

// User собирает профиль пользователя из ответа.
func (a AuthResponse) User() User {
	return User{
		ID:          a.UserID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		Provider:    Provider(a.Provider),
	}
}

// RefreshTokenRequest — запрос на обновление токена.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ValidateTokenResponse — результат проверки access токена.
type ValidateTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
}

// VerifyReceiptRequest — запрос на проверку чека покупки.
type VerifyReceiptRequest struct {
	PaymentMethod         string `json:"payment_method" validate:"required,oneof=apple_iap wechat_pay alipay"`
	ProductID             string `json:"product_id" validate:"required"`
	TransactionID         string `json:"transaction_id" validate:"required"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	ReceiptData           string `json:"receipt_data" validate:"required"`
	Platform              string `json:"platform" validate:"required"`
}

// SyncSubscriptionRequest — состояние подписки, которое клиент отправляет на бэкенд.
type SyncSubscriptionRequest struct {
	Platform        string          `json:"platform" validate:"required"`
	LastKnownStatus string          `json:"last_known_status,omitempty"`
	Subscription    SubscriptionDTO `json:"subscription"`
}
