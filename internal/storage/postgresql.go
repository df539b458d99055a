// Package storage реализует хранилище учётных данных на основе PostgreSQL.
// Токены шифруются перед записью, текущий пользователь помечается флагом is_current.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/entitlement/internal/lib/keylock"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

// ErrStorage оборачивает любые отказы хранилища учётных данных.
var ErrStorage = errors.New("credential storage failure")

// Sealer шифрует токены перед записью.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB     *sql.DB
	sealer Sealer
	locks  *keylock.Locker
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(ctx context.Context, storageConnectionString string, sealer Sealer) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithDB(db, sealer), nil
}

// NewWithDB оборачивает уже открытое соединение.
func NewWithDB(db *sql.DB, sealer Sealer) *Storage {
	return &Storage{
		DB:     db,
		sealer: sealer,
		locks:  keylock.New(),
	}
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(ctx context.Context, storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'credentials'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("required table credentials query error: %w", err)
	}
	if !exists {
		return errors.New("required table credentials missing")
	}
	return nil
}

// Close закрывает соединение с базой.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// Save сохраняет учётные данные и делает их владельца текущим пользователем.
// Предыдущая запись того же пользователя заменяется целиком.
func (s *Storage) Save(ctx context.Context, cred models.Credential) error {
	const op = "storage.Save"

	if cred.UserID == "" {
		return fmt.Errorf("%s: %w: empty user id", op, ErrStorage)
	}
	access, err := s.sealer.Seal(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	refresh, err := s.sealer.Seal(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	unlock := s.locks.Lock(cred.UserID)
	defer unlock()
	// флаг is_current общий для всех пользователей
	unlockCurrent := s.locks.Lock(currentKey)
	defer unlockCurrent()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx,
		`UPDATE credentials SET is_current = false WHERE is_current AND user_id <> $1`,
		cred.UserID); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	query := `INSERT INTO credentials (user_id, provider, access_token, refresh_token, token_type, expires_at, is_current, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, true, NOW())
			  ON CONFLICT (user_id) DO UPDATE SET
			      provider = EXCLUDED.provider,
			      access_token = EXCLUDED.access_token,
			      refresh_token = EXCLUDED.refresh_token,
			      token_type = EXCLUDED.token_type,
			      expires_at = EXCLUDED.expires_at,
			      is_current = true,
			      updated_at = NOW()`
	if _, err = tx.ExecContext(ctx, query,
		cred.UserID, string(cred.Provider), access, refresh, tokenType(cred.TokenType), cred.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	return nil
}

// Get возвращает учётные данные текущего пользователя или nil, если их нет.
func (s *Storage) Get(ctx context.Context) (*models.Credential, error) {
	const op = "storage.Get"

	cred, err := s.scan(s.DB.QueryRowContext(ctx, selectCredential+` WHERE is_current LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cred, nil
}

// GetFor возвращает учётные данные пользователя userID или nil.
func (s *Storage) GetFor(ctx context.Context, userID string) (*models.Credential, error) {
	const op = "storage.GetFor"

	cred, err := s.scan(s.DB.QueryRowContext(ctx, selectCredential+` WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cred, nil
}

// Delete удаляет учётные данные текущего пользователя. Отсутствие записи не ошибка.
func (s *Storage) Delete(ctx context.Context) error {
	const op = "storage.Delete"

	var userID string
	err := s.DB.QueryRowContext(ctx, `SELECT user_id FROM credentials WHERE is_current LIMIT 1`).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	if err = s.DeleteFor(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteFor удаляет учётные данные пользователя userID. Отсутствие записи не ошибка.
func (s *Storage) DeleteFor(ctx context.Context, userID string) error {
	const op = "storage.DeleteFor"

	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	return nil
}

const currentKey = "\x00current"

const selectCredential = `SELECT user_id, provider, access_token, refresh_token, token_type, expires_at FROM credentials`

func (s *Storage) scan(row *sql.Row) (*models.Credential, error) {
	var (
		cred     models.Credential
		provider string
		access   string
		refresh  string
	)
	err := row.Scan(&cred.UserID, &provider, &access, &refresh, &cred.TokenType, &cred.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	cred.Provider = models.Provider(provider)
	if cred.AccessToken, err = s.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if cred.RefreshToken, err = s.sealer.Open(refresh); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return &cred, nil
}

func tokenType(t string) string {
	if t == "" {
		return "Bearer"
	}
	return t
}
