// Package sealer шифрует токены перед записью в постоянное хранилище.
//
// Используется XSalsa20-Poly1305 (nacl/secretbox): результат — base64(nonce || ciphertext).
// Ключ — 32 байта, передаётся в base64 через конфиг.
package sealer

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey возвращается, если ключ не декодируется в 32 байта.
	ErrInvalidKey = errors.New("sealer: key must decode to 32 bytes")
	// ErrOpen возвращается при повреждённом или чужом шифротексте.
	ErrOpen = errors.New("sealer: cannot open sealed value")
)

// Sealer шифрует и расшифровывает строки общим ключом.
type Sealer struct {
	key [keySize]byte
}

// New создаёт Sealer из ключа в base64.
func New(keyB64 string) (*Sealer, error) {
	const op = "sealer.New"
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidKey)
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal шифрует plain.
func (s *Sealer) Seal(plain string) (string, error) {
	const op = "sealer.Seal"
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open расшифровывает значение, полученное из Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	const op = "sealer.Open"
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%s: %w", op, ErrOpen)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("%s: %w", op, ErrOpen)
	}
	return string(plain), nil
}

// GenerateKey возвращает новый случайный ключ в base64.
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", fmt.Errorf("sealer.GenerateKey: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}
