package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// ExchangeToken обменивает код провайдера на учётные данные бэкенда.
func (c *Client) ExchangeToken(ctx context.Context, pc models.ProviderCredential) (*models.Credential, *models.User, error) {
	const op = "backend.ExchangeToken"

	var resp models.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/oauth/exchange", "", pc, &resp); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.AccessToken == "" || resp.UserID == "" {
		return nil, nil, fmt.Errorf("%s: %w: empty credential in response", op, ErrRejected)
	}

	cred := resp.Credential()
	user := resp.User()
	c.log.Debug("token exchanged", slog.String("op", op), slog.String("provider", string(pc.Provider)))
	return &cred, &user, nil
}

// ValidateToken спрашивает бэкенд, принимает ли он access токен.
// Отказ в авторизации — (false, nil), недоступность — ErrUnavailable.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	const op = "backend.ValidateToken"

	var resp models.ValidateTokenResponse
	_, err := c.do(ctx, http.MethodPost, "/auth/token/validate", token, nil, &resp)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return resp.Valid, nil
}

// RefreshToken обменивает refresh токен на новые учётные данные.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*models.Credential, error) {
	const op = "backend.RefreshToken"

	var resp models.AuthResponse
	_, err := c.do(ctx, http.MethodPost, "/auth/token/refresh", "", models.RefreshTokenRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: empty credential in response", op, ErrUnavailable)
	}
	cred := resp.Credential()
	return &cred, nil
}

// Logout отзывает токен на бэкенде.
func (c *Client) Logout(ctx context.Context, token string) error {
	const op = "backend.Logout"

	if _, err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
