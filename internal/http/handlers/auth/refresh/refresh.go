// Package refresh реализует обновление пары токенов по refresh токену.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement/internal/devbackend"
	"github.com/magabrotheeeer/entitlement/internal/http/response"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type Service interface {
	Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Обновление токена
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body models.RefreshTokenRequest true "Refresh токен"
// @Success 200 {object} response.Response{data=models.AuthResponse}
// @Failure 401 {object} response.ErrorResponse "Токен недействителен"
// @Router /auth/token/refresh [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.refresh"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if errors.Is(err, devbackend.ErrInvalidToken) {
		log.Warn("refresh token rejected", sl.Err(err))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid or expired refresh token"))
		return
	}
	if err != nil {
		log.Error("token refresh failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("token refreshed", slog.String("user_id", resp.UserID))
	render.JSON(w, r, response.OKWithData(resp))
}
