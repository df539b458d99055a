package models

// User представляет аутентифицированного пользователя текущей сессии.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email,omitempty"`
	Provider    Provider `json:"provider"`
}
