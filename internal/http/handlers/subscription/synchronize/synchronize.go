// Package synchronize принимает от клиента последнее известное состояние подписки.
package synchronize

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
	"github.com/magabrotheeeer/entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement/internal/http/response"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type Service interface {
	Sync(ctx context.Context, userID string, req models.SyncSubscriptionRequest) (*models.SubscriptionDTO, error)
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
// @Summary Синхронизация подписки
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.SyncSubscriptionRequest true "Состояние подписки"
// @Success 200 {object} response.Response{data=models.SubscriptionDTO}
// @Failure 400 {object} response.ErrorResponse "Некорректная подписка"
// @Failure 401 {object} response.ErrorResponse "Токен недействителен"
// @Router /subscription/sync [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.sync"

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

	var req models.SyncSubscriptionRequest
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

	dto, err := h.service.Sync(r.Context(), userID, req)
	if errors.Is(err, devbackend.ErrInvalidSubscription) {
		log.Warn("invalid subscription", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid subscription"))
		return
	}
	if err != nil {
		log.Error("sync failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("subscription synced", slog.String("user_id", userID), slog.String("status", dto.Status))
	render.JSON(w, r, response.OKWithData(dto))
}
