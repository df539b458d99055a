// Package filestore хранит учётные данные на устройстве: по файлу на пользователя
// и указатель current на текущего пользователя. Токены зашифрованы.
package filestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/magabrotheeeer/entitlement/internal/lib/atomicfile"
	"github.com/magabrotheeeer/entitlement/internal/lib/keylock"
	"github.com/magabrotheeeer/entitlement/internal/models"
	"github.com/magabrotheeeer/entitlement/internal/storage"
)

const (
	dirPerm     = 0o700
	filePerm    = 0o600
	currentFile = "current"
	usersDir    = "users"
	currentKey  = "\x00current"
)

type record struct {
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store — файловое хранилище учётных данных.
type Store struct {
	dir    string
	sealer storage.Sealer
	locks  *keylock.Locker
}

// New создаёт каталог хранилища с правами 0700.
func New(dir string, sealer storage.Sealer) (*Store, error) {
	const op = "filestore.New"

	if err := os.MkdirAll(filepath.Join(dir, usersDir), dirPerm); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &Store{
		dir:    dir,
		sealer: sealer,
		locks:  keylock.New(),
	}, nil
}

// Save записывает учётные данные и делает пользователя текущим.
// Записи прежних пользователей остаются до DeleteFor: Get и Delete работают только с текущим,
// а Delete текущего не затрагивает записи остальных.
func (s *Store) Save(ctx context.Context, cred models.Credential) error {
	const op = "filestore.Save"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cred.UserID == "" {
		return fmt.Errorf("%s: %w: empty user id", op, storage.ErrStorage)
	}

	rec := record{
		UserID:    cred.UserID,
		Provider:  string(cred.Provider),
		TokenType: cred.TokenType,
		ExpiresAt: cred.ExpiresAt.UTC(),
	}
	var err error
	if rec.AccessToken, err = s.sealer.Seal(cred.AccessToken); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if rec.RefreshToken, err = s.sealer.Seal(cred.RefreshToken); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	unlock := s.locks.Lock(cred.UserID)
	defer unlock()

	if err = atomicfile.Write(s.userPath(cred.UserID), data, filePerm); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	unlockCurrent := s.locks.Lock(currentKey)
	defer unlockCurrent()
	if err = atomicfile.Write(filepath.Join(s.dir, currentFile), []byte(cred.UserID), filePerm); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return nil
}

// Get возвращает учётные данные текущего пользователя или nil.
func (s *Store) Get(ctx context.Context) (*models.Credential, error) {
	const op = "filestore.Get"

	userID, err := s.current()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if userID == "" {
		return nil, nil
	}
	cred, err := s.GetFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cred, nil
}

// GetFor возвращает учётные данные пользователя userID или nil.
func (s *Store) GetFor(ctx context.Context, userID string) (*models.Credential, error) {
	const op = "filestore.GetFor"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := os.ReadFile(s.userPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	var rec record
	if err = json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	cred := &models.Credential{
		UserID:    rec.UserID,
		Provider:  models.Provider(rec.Provider),
		TokenType: rec.TokenType,
		ExpiresAt: rec.ExpiresAt,
	}
	if cred.AccessToken, err = s.sealer.Open(rec.AccessToken); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if cred.RefreshToken, err = s.sealer.Open(rec.RefreshToken); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return cred, nil
}

// Delete удаляет учётные данные текущего пользователя. Отсутствие записи не ошибка.
func (s *Store) Delete(ctx context.Context) error {
	const op = "filestore.Delete"

	userID, err := s.current()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if userID == "" {
		return nil
	}
	if err = s.DeleteFor(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteFor удаляет учётные данные пользователя userID и снимает указатель, если он на него.
func (s *Store) DeleteFor(ctx context.Context, userID string) error {
	const op = "filestore.DeleteFor"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := os.Remove(s.userPath(userID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	unlockCurrent := s.locks.Lock(currentKey)
	defer unlockCurrent()

	current, err := s.current()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if current == userID {
		if err = os.Remove(filepath.Join(s.dir, currentFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
	}
	return nil
}

func (s *Store) current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", storage.ErrStorage, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// имя файла не зависит от символов в userID
func (s *Store) userPath(userID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(userID)) + ".json"
	return filepath.Join(s.dir, usersDir, name)
}
