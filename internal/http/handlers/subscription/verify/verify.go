// Package verify проверяет чек покупки и активирует подписку.
package verify

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
	Verify(ctx context.Context, userID string, req models.VerifyReceiptRequest) (*models.VerificationResult, error)
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
// @Summary Проверка чека
// @Description Проверяет чек платёжного провайдера. Отклонённый чек возвращается с success=false и кодом 200.
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.VerifyReceiptRequest true "Данные покупки"
// @Success 200 {object} response.Response{data=models.VerificationResult}
// @Failure 400 {object} response.ErrorResponse "Неизвестный продукт или некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Токен недействителен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /subscription/verify [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.verify"

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

	var req models.VerifyReceiptRequest
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

	result, err := h.service.Verify(r.Context(), userID, req)
	if errors.Is(err, devbackend.ErrUnknownProduct) {
		log.Warn("unknown product", slog.String("product_id", req.ProductID))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown product"))
		return
	}
	if err != nil {
		log.Error("verification failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("receipt checked",
		slog.String("user_id", userID),
		slog.String("transaction_id", req.TransactionID),
		slog.Bool("success", result.Success),
	)
	render.JSON(w, r, response.OKWithData(result))
}
