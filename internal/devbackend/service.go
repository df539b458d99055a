// Package devbackend — локальная реализация API бэкенда для разработки и сквозных тестов.
// Пользователи, токены и подписки хранятся в памяти процесса.
package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

var (
	// ErrInvalidCode — код провайдера не принят.
	ErrInvalidCode = errors.New("invalid oauth code")
	// ErrInvalidToken — токен не прошёл проверку или отозван.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnknownProduct — продукта нет в каталоге.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrInvalidSubscription — клиент прислал некорректную подписку.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Service — состояние и правила локального бэкенда.
type Service struct {
	tokens   jwt.Maker
	receipts *payment.ReceiptCodec
	catalog  []models.Product
	codes    map[models.Provider]string
	clock    clock.Clock
	log      *slog.Logger

	mu            sync.Mutex
	users         map[string]*models.User
	identities    map[string]string
	access        map[string]string
	refresh       map[string]string
	subscriptions map[string]models.Subscription
	verified      map[string]string
}

// New создаёт сервис. codes — ожидаемые коды провайдеров; провайдер без кода принимает любой непустой код.
func New(tokens jwt.Maker, receipts *payment.ReceiptCodec, catalog []models.Product, codes map[models.Provider]string, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		tokens:        tokens,
		receipts:      receipts,
		catalog:       catalog,
		codes:         codes,
		clock:         clk,
		log:           log,
		users:         make(map[string]*models.User),
		identities:    make(map[string]string),
		access:        make(map[string]string),
		refresh:       make(map[string]string),
		subscriptions: make(map[string]models.Subscription),
		verified:      make(map[string]string),
	}
}

// Exchange принимает код провайдера, находит или создаёт пользователя и выдаёт пару токенов.
func (s *Service) Exchange(_ context.Context, pc models.ProviderCredential) (*models.AuthResponse, error) {
	const op = "devbackend.Exchange"

	if want, ok := s.codes[pc.Provider]; pc.AuthCode == "" || (ok && want != "" && want != pc.AuthCode) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(pc.Provider) + ":" + pc.AuthCode
	id, ok := s.identities[key]
	if !ok {
		id = uuid.NewString()
		s.identities[key] = id
		s.users[id] = &models.User{
			ID:          id,
			DisplayName: pc.DisplayName,
			Email:       pc.Email,
			Provider:    pc.Provider,
		}
		s.log.Info("user created", slog.String("op", op), slog.String("user_id", id))
	}
	return s.issueLocked(*s.users[id])
}

// Refresh выдаёт новую пару токенов. Использованный refresh токен больше не принимается.
func (s *Service) Refresh(_ context.Context, refreshToken string) (*models.AuthResponse, error) {
	const op = "devbackend.Refresh"

	claims, err := s.tokens.ParseToken(refreshToken, jwt.Refresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh[claims.ID] != claims.UserID() {
		return nil, fmt.Errorf("%s: %w: refresh token revoked", op, ErrInvalidToken)
	}
	user, ok := s.users[claims.UserID()]
	if !ok {
		return nil, fmt.Errorf("%s: %w: unknown user", op, ErrInvalidToken)
	}
	delete(s.refresh, claims.ID)
	return s.issueLocked(*user)
}

// Authenticate проверяет access токен и возвращает ID пользователя.
func (s *Service) Authenticate(_ context.Context, accessToken string) (string, error) {
	const op = "devbackend.Authenticate"

	claims, err := s.tokens.ParseToken(accessToken, jwt.Access)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access[claims.ID] != claims.UserID() {
		return "", fmt.Errorf("%s: %w: access token revoked", op, ErrInvalidToken)
	}
	return claims.UserID(), nil
}

// Logout отзывает все токены пользователя.
func (s *Service) Logout(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, uid := range s.access {
		if uid == userID {
			delete(s.access, jti)
		}
	}
	for jti, uid := range s.refresh {
		if uid == userID {
			delete(s.refresh, jti)
		}
	}
	s.log.Info("user logged out", slog.String("op", "devbackend.Logout"), slog.String("user_id", userID))
}

// Products возвращает каталог.
func (s *Service) Products(_ context.Context) []models.Product {
	out := make([]models.Product, len(s.catalog))
	copy(out, s.catalog)
	return out
}

// Status возвращает подписку пользователя, nil если её нет. Истёкшая активная подписка
// помечается как expired.
func (s *Service) Status(_ context.Context, userID string) *models.SubscriptionDTO {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil
	}
	sub = s.expireLocked(userID, sub)
	dto := models.NewSubscriptionDTO(sub)
	return &dto
}

// Verify проверяет подпись чека и его соответствие транзакции, затем активирует подписку.
// Отказ в проверке — ответ с Success=false, а не ошибка.
func (s *Service) Verify(_ context.Context, userID string, req models.VerifyReceiptRequest) (*models.VerificationResult, error) {
	const op = "devbackend.Verify"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("transaction_id", req.TransactionID))

	tier, period, err := models.ParseProductID(req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnknownProduct, err)
	}
	if _, ok := models.FindProduct(s.catalog, tier, period); !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnknownProduct, req.ProductID)
	}

	claims, err := s.receipts.Decode(req.ReceiptData)
	if err != nil {
		log.Warn("receipt signature rejected")
		return &models.VerificationResult{Success: false, Message: "invalid receipt signature"}, nil
	}
	if !claims.Matches(req.TransactionID, req.ProductID) {
		log.Warn("receipt does not match transaction")
		return &models.VerificationResult{Success: false, Message: "receipt does not match transaction"}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.verified[req.TransactionID]; ok {
		if owner != userID {
			return &models.VerificationResult{Success: false, Message: "transaction belongs to another user"}, nil
		}
		dto := models.NewSubscriptionDTO(s.subscriptions[userID])
		return &models.VerificationResult{Success: true, Subscription: &dto, Message: "already verified"}, nil
	}

	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		method = models.PaymentAppleIAP
	}
	start := claims.PurchaseDate
	expiry := period.After(start)
	if claims.ExpirationDate != nil {
		expiry = *claims.ExpirationDate
	}
	sub := models.Subscription{
		ID:            req.TransactionID,
		UserID:        userID,
		Tier:          tier,
		BillingPeriod: period,
		Status:        models.StatusActive,
		StartDate:     start,
		ExpiryDate:    expiry,
		AutoRenew:     true,
		PaymentMethod: method,
		LastSyncedAt:  s.clock.Now(),
	}
	s.subscriptions[userID] = sub
	s.verified[req.TransactionID] = userID
	log.Info("receipt verified", slog.String("tier", string(tier)))

	dto := models.NewSubscriptionDTO(sub)
	return &models.VerificationResult{Success: true, Subscription: &dto}, nil
}

// Sync принимает состояние подписки клиента.
func (s *Service) Sync(_ context.Context, userID string, req models.SyncSubscriptionRequest) (*models.SubscriptionDTO, error) {
	const op = "devbackend.Sync"

	sub, err := req.Subscription.ToSubscription(s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSubscription, err)
	}
	sub.UserID = userID

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[userID] = sub
	sub = s.expireLocked(userID, sub)
	s.log.Info("subscription synced",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("status", string(sub.Status)),
	)
	dto := models.NewSubscriptionDTO(sub)
	return &dto, nil
}

func (s *Service) expireLocked(userID string, sub models.Subscription) models.Subscription {
	if sub.Status == models.StatusActive && sub.IsExpired(s.clock.Now()) {
		sub.Status = models.StatusExpired
		s.subscriptions[userID] = sub
	}
	return sub
}

func (s *Service) issueLocked(user models.User) (*models.AuthResponse, error) {
	const op = "devbackend.issue"

	access, expiresAt, err := s.tokens.GenerateToken(user.ID, string(user.Provider), jwt.Access)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refresh, _, err := s.tokens.GenerateToken(user.ID, string(user.Provider), jwt.Refresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	accessClaims, err := s.tokens.ParseToken(access, jwt.Access)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refreshClaims, err := s.tokens.ParseToken(refresh, jwt.Refresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.access[accessClaims.ID] = user.ID
	s.refresh[refreshClaims.ID] = user.ID

	return &models.AuthResponse{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		Provider:     string(user.Provider),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}
