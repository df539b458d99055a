// Package products отдаёт каталог подписок.
package products

import (
	"context"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement/internal/http/response"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type Service interface {
	Products(ctx context.Context) []models.Product
}

type Handler struct {
	service Service
}

func New(service Service) *Handler {
	return &Handler{service: service}
}

// ServeHTTP godoc
// @Summary Каталог подписок
// @Tags Subscription
// @Produce  json
// @Success 200 {object} response.Response{data=[]models.Product}
// @Router /subscription/products [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(h.service.Products(r.Context())))
}
