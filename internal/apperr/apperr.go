// Package apperr описывает закрытую таксономию ошибок сессии и подписки.
//
// Error() возвращает внутренний идентификатор для логов и телеметрии,
// текст для пользователя получается через Message с учётом языка.
package apperr

import (
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// AuthKind — вид ошибки аутентификации.
type AuthKind int

const (
	AuthOAuthFailed AuthKind = iota + 1
	AuthUserCancelled
	AuthNetwork
	AuthTokenExpired
	AuthTokenInvalid
	AuthNotImplemented
)

func (k AuthKind) String() string {
	switch k {
	case AuthOAuthFailed:
		return "oauth_failed"
	case AuthUserCancelled:
		return "user_cancelled"
	case AuthNetwork:
		return "network_error"
	case AuthTokenExpired:
		return "token_expired"
	case AuthTokenInvalid:
		return "token_invalid"
	case AuthNotImplemented:
		return "not_implemented"
	default:
		return fmt.Sprintf("auth_kind(%d)", int(k))
	}
}

// AuthError — ошибка сессии.
type AuthError struct {
	Kind     AuthKind
	Provider models.Provider
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	msg := "auth: " + e.Kind.String()
	if e.Provider != "" {
		msg += "(" + string(e.Provider) + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is сравнивает только вид ошибки, что позволяет писать errors.Is(err, apperr.ErrTokenExpired).
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrOAuthFailed    = &AuthError{Kind: AuthOAuthFailed}
	ErrAuthCancelled  = &AuthError{Kind: AuthUserCancelled}
	ErrAuthNetwork    = &AuthError{Kind: AuthNetwork}
	ErrTokenExpired   = &AuthError{Kind: AuthTokenExpired}
	ErrTokenInvalid   = &AuthError{Kind: AuthTokenInvalid}
	ErrNotImplemented = &AuthError{Kind: AuthNotImplemented}
)

// Auth создаёт ошибку аутентификации вида kind с причиной err.
func Auth(kind AuthKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// OAuthFailed создаёт ошибку входа через провайдера.
func OAuthFailed(provider models.Provider, reason string, err error) *AuthError {
	return &AuthError{Kind: AuthOAuthFailed, Provider: provider, Reason: reason, Err: err}
}

// SubscriptionKind — вид ошибки подписки.
type SubscriptionKind int

const (
	SubProductNotFound SubscriptionKind = iota + 1
	SubPurchaseFailed
	SubVerificationFailed
	SubNetwork
	SubUserCancelled
	SubInsufficientPermissions
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubProductNotFound:
		return "product_not_found"
	case SubPurchaseFailed:
		return "purchase_failed"
	case SubVerificationFailed:
		return "verification_failed"
	case SubNetwork:
		return "network_error"
	case SubUserCancelled:
		return "user_cancelled"
	case SubInsufficientPermissions:
		return "insufficient_permissions"
	default:
		return fmt.Sprintf("subscription_kind(%d)", int(k))
	}
}

// SubscriptionError — ошибка подписки.
type SubscriptionError struct {
	Kind   SubscriptionKind
	Reason string
	Err    error
}

func (e *SubscriptionError) Error() string {
	msg := "subscription: " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Is сравнивает только вид ошибки.
func (e *SubscriptionError) Is(target error) bool {
	var t *SubscriptionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrProductNotFound         = &SubscriptionError{Kind: SubProductNotFound}
	ErrPurchaseFailed          = &SubscriptionError{Kind: SubPurchaseFailed}
	ErrVerificationFailed      = &SubscriptionError{Kind: SubVerificationFailed}
	ErrSubscriptionNetwork     = &SubscriptionError{Kind: SubNetwork}
	ErrPurchaseCancelled       = &SubscriptionError{Kind: SubUserCancelled}
	ErrInsufficientPermissions = &SubscriptionError{Kind: SubInsufficientPermissions}
)

// Subscription создаёт ошибку подписки вида kind с причиной err.
func Subscription(kind SubscriptionKind, err error) *SubscriptionError {
	return &SubscriptionError{Kind: kind, Err: err}
}

// PurchaseFailed создаёт ошибку покупки с причиной reason.
func PurchaseFailed(reason string, err error) *SubscriptionError {
	return &SubscriptionError{Kind: SubPurchaseFailed, Reason: reason, Err: err}
}
