// Package status отдаёт текущую подписку пользователя.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement/internal/http/response"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type Service interface {
	Status(ctx context.Context, userID string) *models.SubscriptionDTO
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Статус подписки
// @Description Возвращает подписку пользователя. Просроченная подписка отдаётся со статусом expired.
// @Tags Subscription
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.SubscriptionDTO}
// @Failure 401 {object} response.ErrorResponse "Токен недействителен"
// @Failure 404 {object} response.ErrorResponse "Подписки нет"
// @Router /subscription/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user identification missing")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}

	dto := h.service.Status(r.Context(), userID)
	if dto == nil {
		log.Debug("no subscription", slog.String("user_id", userID))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("subscription not found"))
		return
	}
	render.JSON(w, r, response.OKWithData(dto))
}
