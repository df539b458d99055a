// Package exchange реализует обмен кода OAuth-провайдера на токены бэкенда.
package exchange

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

// Service выполняет обмен кода провайдера.
type Service interface {
	Exchange(ctx context.Context, pc models.ProviderCredential) (*models.AuthResponse, error)
}

// Handler обрабатывает HTTP-запросы на вход через провайдера.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход через OAuth-провайдера
// @Description Обменивает код провайдера (apple, wechat, alipay) на access и refresh токены.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body models.ProviderCredential true "Код провайдера"
// @Success 200 {object} response.Response{data=models.AuthResponse}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Код не принят"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/oauth/exchange [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.exchange"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.ProviderCredential
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

	resp, err := h.service.Exchange(r.Context(), req)
	if errors.Is(err, devbackend.ErrInvalidCode) {
		log.Warn("oauth code rejected", slog.String("provider", string(req.Provider)))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid oauth code"))
		return
	}
	if err != nil {
		log.Error("token exchange failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("user signed in", slog.String("user_id", resp.UserID), slog.String("provider", resp.Provider))
	render.JSON(w, r, response.OKWithData(resp))
}
