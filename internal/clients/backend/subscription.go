package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// GetProducts возвращает каталог продуктов бэкенда.
func (c *Client) GetProducts(ctx context.Context) ([]models.Product, error) {
	const op = "backend.GetProducts"

	var products []models.Product
	if _, err := c.do(ctx, http.MethodGet, "/subscription/products", "", nil, &products); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return products, nil
}

// VerifyReceipt отправляет чек транзакции на проверку.
func (c *Client) VerifyReceipt(ctx context.Context, tx models.Transaction, token string) (*models.VerificationResult, error) {
	const op = "backend.VerifyReceipt"

	req := models.VerifyReceiptRequest{
		PaymentMethod:         string(tx.Method),
		ProductID:             tx.ProductID,
		TransactionID:         tx.ID,
		OriginalTransactionID: tx.OriginalID,
		ReceiptData:           tx.Receipt,
		Platform:              models.PlatformDevice,
	}
	var result models.VerificationResult
	if _, err := c.do(ctx, http.MethodPost, "/subscription/verify", token, req, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// GetStatus возвращает подписку пользователя. nil без ошибки, если подписки нет.
func (c *Client) GetStatus(ctx context.Context, token string) (*models.SubscriptionDTO, error) {
	const op = "backend.GetStatus"

	var dto *models.SubscriptionDTO
	status, err := c.do(ctx, http.MethodGet, "/subscription/status", token, nil, &dto)
	if status == http.StatusNotFound && errors.Is(err, ErrRejected) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return dto, nil
}

// SyncSubscription отправляет локальное состояние подписки на бэкенд.
func (c *Client) SyncSubscription(ctx context.Context, sub models.Subscription, token string) error {
	const op = "backend.SyncSubscription"

	req := models.SyncSubscriptionRequest{
		Platform:        models.PlatformDevice,
		LastKnownStatus: string(sub.Status),
		Subscription:    models.NewSubscriptionDTO(sub),
	}
	if _, err := c.do(ctx, http.MethodPost, "/subscription/sync", token, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
