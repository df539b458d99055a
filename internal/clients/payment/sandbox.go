// Package payment — песочница платёжного провайдера: детерминированные покупки
// с подписанными чеками и журнал транзакций для восстановления покупок.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement/internal/lib/atomicfile"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

var (
	// ErrUserCancelled — пользователь отменил покупку.
	ErrUserCancelled = errors.New("purchase cancelled by user")
	// ErrDeclined — провайдер отклонил платёж.
	ErrDeclined = errors.New("payment declined")
	// ErrUnknownProduct — продукт отсутствует в каталоге провайдера.
	ErrUnknownProduct = errors.New("unknown product")
)

// Outcome — исход следующей покупки в песочнице.
type Outcome int

const (
	OutcomeSucceed Outcome = iota
	OutcomeCancel
	OutcomeDecline
)

type ledgerEntry struct {
	Transaction models.Transaction `json:"transaction"`
	Finished    bool               `json:"finished"`
}

// Sandbox — платёжный провайдер без реальных списаний.
type Sandbox struct {
	mu       sync.Mutex
	log      *slog.Logger
	clock    clock.Clock
	codec    *ReceiptCodec
	method   models.PaymentMethod
	products map[string]models.Product
	path     string
	ledger   []ledgerEntry
	next     Outcome
}

// SandboxOptions — параметры песочницы. LedgerPath пустой — журнал только в памяти.
type SandboxOptions struct {
	Products   []models.Product
	Method     models.PaymentMethod
	LedgerPath string
}

// NewSandbox создаёт песочницу и загружает журнал, если он уже есть.
func NewSandbox(codec *ReceiptCodec, clk clock.Clock, log *slog.Logger, opts SandboxOptions) (*Sandbox, error) {
	const op = "payment.NewSandbox"

	method := opts.Method
	if method == "" {
		method = models.PaymentAppleIAP
	}
	s := &Sandbox{
		log:      log,
		clock:    clk,
		codec:    codec,
		method:   method,
		products: make(map[string]models.Product, len(opts.Products)),
		path:     opts.LedgerPath,
	}
	for _, p := range opts.Products {
		s.products[p.ID] = p
	}
	if err := s.loadLedger(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// SetNextOutcome задаёт исход следующей покупки, после неё песочница снова проводит покупки успешно.
func (s *Sandbox) SetNextOutcome(o Outcome) {
	s.mu.Lock()
	s.next = o
	s.mu.Unlock()
}

// FetchProducts возвращает известные провайдеру продукты из списка ids.
func (s *Sandbox) FetchProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Purchase проводит покупку и выпускает транзакцию с подписанным чеком.
func (s *Sandbox) Purchase(ctx context.Context, product models.Product) (*models.Transaction, error) {
	const op = "payment.Sandbox.Purchase"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := s.products[product.ID]; !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnknownProduct, product.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := s.next
	s.next = OutcomeSucceed
	switch outcome {
	case OutcomeCancel:
		return nil, fmt.Errorf("%s: %w", op, ErrUserCancelled)
	case OutcomeDecline:
		return nil, fmt.Errorf("%s: %w", op, ErrDeclined)
	}

	now := s.clock.Now().UTC()
	expires := product.BillingPeriod.After(now)
	id := uuid.NewString()
	originalID := s.originalIDLocked(product)
	if originalID == "" {
		originalID = id
	}
	tx := models.Transaction{
		ID:             id,
		OriginalID:     originalID,
		ProductID:      product.ID,
		PurchaseDate:   now,
		ExpirationDate: &expires,
		Method:         s.method,
	}
	receipt, err := s.codec.Encode(tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tx.Receipt = receipt

	s.ledger = append(s.ledger, ledgerEntry{Transaction: tx})
	if err = s.saveLedgerLocked(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("sandbox purchase completed",
		slog.String("op", op),
		slog.String("transaction_id", tx.ID),
		slog.String("product_id", tx.ProductID),
	)
	return &tx, nil
}

// RestorePurchases возвращает транзакции с действующим сроком, новые первыми.
func (s *Sandbox) RestorePurchases(ctx context.Context) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []models.Transaction
	for _, e := range s.ledger {
		tx := e.Transaction
		if tx.ExpirationDate != nil && !now.Before(*tx.ExpirationDate) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PurchaseDate.After(out[j].PurchaseDate)
	})
	return out, nil
}

// Finish подтверждает получение транзакции.
func (s *Sandbox) Finish(ctx context.Context, tx models.Transaction) error {
	const op = "payment.Sandbox.Finish"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].Transaction.ID == tx.ID {
			s.ledger[i].Finished = true
			return s.saveLedgerLocked()
		}
	}
	return fmt.Errorf("%s: unknown transaction %s", op, tx.ID)
}

// Unfinished возвращает транзакции, получение которых ещё не подтверждено.
func (s *Sandbox) Unfinished() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, e := range s.ledger {
		if !e.Finished {
			out = append(out, e.Transaction)
		}
	}
	return out
}

// Expire переводит срок всех транзакций в прошлое. Нужен для проверки истечения подписки.
func (s *Sandbox) Expire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	past := s.clock.Now().UTC().Add(-1)
	for i := range s.ledger {
		s.ledger[i].Transaction.ExpirationDate = &past
	}
	return s.saveLedgerLocked()
}

// продление того же уровня сохраняет исходную транзакцию
func (s *Sandbox) originalIDLocked(product models.Product) string {
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].Transaction.ProductID == product.ID {
			return s.ledger[i].Transaction.OriginalID
		}
	}
	return ""
}

func (s *Sandbox) loadLedger() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.ledger)
}

func (s *Sandbox) saveLedgerLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(s.ledger)
	if err != nil {
		return err
	}
	return atomicfile.Write(s.path, data, 0o600)
}
