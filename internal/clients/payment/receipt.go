package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// ErrInvalidReceipt — подпись чека не сходится или чек повреждён.
var ErrInvalidReceipt = errors.New("invalid receipt")

// ReceiptClaims — содержимое подписанного чека.
type ReceiptClaims struct {
	TransactionID  string     `json:"tid"`
	OriginalID     string     `json:"otid,omitempty"`
	ProductID      string     `json:"pid"`
	Method         string     `json:"method"`
	PurchaseDate   time.Time  `json:"purchased_at"`
	ExpirationDate *time.Time `json:"expires_at,omitempty"`
	jwt.RegisteredClaims
}

// ReceiptCodec подписывает чеки общим с бэкендом секретом.
type ReceiptCodec struct {
	secret []byte
}

// NewReceiptCodec создаёт кодек. Пустой секрет недопустим.
func NewReceiptCodec(secret string) (*ReceiptCodec, error) {
	if secret == "" {
		return nil, errors.New("payment.NewReceiptCodec: empty secret")
	}
	return &ReceiptCodec{secret: []byte(secret)}, nil
}

// Encode выпускает чек для транзакции.
func (c *ReceiptCodec) Encode(tx models.Transaction) (string, error) {
	const op = "payment.ReceiptCodec.Encode"

	claims := ReceiptClaims{
		TransactionID:  tx.ID,
		OriginalID:     tx.OriginalID,
		ProductID:      tx.ProductID,
		Method:         string(tx.Method),
		PurchaseDate:   tx.PurchaseDate.UTC(),
		ExpirationDate: tx.ExpirationDate,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(tx.PurchaseDate),
			Subject:  tx.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// Decode проверяет подпись чека. Срок подписки не проверяется: чек истёкшей подписки остаётся валидным документом.
func (c *ReceiptCodec) Decode(receipt string) (*ReceiptClaims, error) {
	const op = "payment.ReceiptCodec.Decode"

	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidReceipt, err)
	}
	return claims, nil
}

// Matches сообщает, относится ли чек к транзакции tx.
func (r *ReceiptClaims) Matches(transactionID, productID string) bool {
	return r.TransactionID == transactionID && r.ProductID == productID
}
