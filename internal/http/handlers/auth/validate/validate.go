// Package validate отвечает, действителен ли access токен. Сам токен проверяет JWTMiddleware.
package validate

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement/internal/http/response"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type Handler struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Проверка access токена
// @Tags Auth
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.ValidateTokenResponse}
// @Failure 401 {object} response.ErrorResponse "Токен недействителен"
// @Router /auth/token/validate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		h.log.Error("user identification missing", slog.String("op", "handlers.auth.validate"))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}
	render.JSON(w, r, response.OKWithData(models.ValidateTokenResponse{Valid: true, UserID: userID}))
}
