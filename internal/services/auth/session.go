// Package auth управляет сессией пользователя: вход через провайдера, хранение
// учётных данных, проверка и обновление токена, выход.
//
// Состояния: Unauthenticated -> Authenticating -> Authenticated. Неустранимый отказ
// проверки или обновления возвращает сессию в Unauthenticated и удаляет учётные данные.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/clients/backend"
	"github.com/magabrotheeeer/entitlement/internal/clients/identity"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/metrics"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

// State — состояние сессии.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CredentialStore — хранилище учётных данных текущего пользователя.
type CredentialStore interface {
	Save(ctx context.Context, cred models.Credential) error
	// Get возвращает nil, nil, если учётных данных нет.
	Get(ctx context.Context) (*models.Credential, error)
	// Delete отсутствующей записи не ошибка.
	Delete(ctx context.Context) error
}

// IdentityProvider выполняет вход у OAuth-провайдера.
type IdentityProvider interface {
	SignIn(ctx context.Context) (*models.ProviderCredential, error)
}

// Backend — операции аутентификации на бэкенде.
type Backend interface {
	ExchangeToken(ctx context.Context, pc models.ProviderCredential) (*models.Credential, *models.User, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.Credential, error)
	Logout(ctx context.Context, token string) error
}

// Session — сессия пользователя на устройстве.
type Session struct {
	log       *slog.Logger
	store     CredentialStore
	backend   Backend
	clock     clock.Clock
	metrics   *metrics.Metrics
	providers map[models.Provider]IdentityProvider

	mu        sync.RWMutex
	state     State
	user      *models.User
	listeners []func(context.Context)

	refresh singleflight.Group
}

// NewSession создаёт сессию в состоянии Unauthenticated. m может быть nil.
func NewSession(store CredentialStore, b Backend, clk clock.Clock, m *metrics.Metrics, log *slog.Logger) *Session {
	return &Session{
		log:       log,
		store:     store,
		backend:   b,
		clock:     clk,
		metrics:   m,
		providers: make(map[models.Provider]IdentityProvider),
		state:     StateUnauthenticated,
	}
}

// RegisterProvider подключает провайдера входа.
func (s *Session) RegisterProvider(p models.Provider, ip IdentityProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p] = ip
}

// OnSignedOut добавляет обработчик, вызываемый после выхода или сброса сессии.
func (s *Session) OnSignedOut(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State возвращает текущее состояние.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentUser возвращает копию текущего пользователя или nil.
func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Restore восстанавливает состояние из хранилища без обращения к сети.
// Сессия становится Authenticated, только если токен ещё не истёк.
func (s *Session) Restore(ctx context.Context) State {
	const op = "auth.Session.Restore"

	cred, err := s.store.Get(ctx)
	if err != nil {
		s.log.Warn("credential store unreadable, starting unauthenticated", slog.String("op", op), sl.Err(err))
		s.setUnauthenticated()
		return StateUnauthenticated
	}
	if cred == nil || cred.Expired(s.clock.Now()) {
		s.setUnauthenticated()
		return StateUnauthenticated
	}
	s.setAuthenticated(s.userFor(*cred))
	return StateAuthenticated
}

// SignIn выполняет вход через провайдера p и сохраняет учётные данные.
// При отмене или ошибке состояние возвращается к прежнему и ничего не сохраняется.
func (s *Session) SignIn(ctx context.Context, p models.Provider) (*models.User, error) {
	const op = "auth.Session.SignIn"
	log := s.log.With(slog.String("op", op), slog.String("provider", string(p)))

	s.mu.Lock()
	ip, ok := s.providers[p]
	if !ok {
		s.mu.Unlock()
		return nil, &apperr.AuthError{Kind: apperr.AuthNotImplemented, Provider: p}
	}
	prevState, prevUser := s.state, s.user
	s.state = StateAuthenticating
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.state, s.user = prevState, prevUser
		s.mu.Unlock()
	}

	pc, err := ip.SignIn(ctx)
	if err != nil {
		rollback()
		if errors.Is(err, identity.ErrUserCancelled) || errors.Is(err, context.Canceled) {
			log.Info("sign-in cancelled")
			return nil, &apperr.AuthError{Kind: apperr.AuthUserCancelled, Provider: p, Err: err}
		}
		log.Error("provider sign-in failed", sl.Err(err))
		return nil, apperr.OAuthFailed(p, "provider sign-in failed", err)
	}

	cred, user, err := s.backend.ExchangeToken(ctx, *pc)
	if err != nil {
		rollback()
		log.Error("token exchange failed", sl.Err(err))
		if isNetwork(err) {
			return nil, &apperr.AuthError{Kind: apperr.AuthNetwork, Provider: p, Err: err}
		}
		return nil, apperr.OAuthFailed(p, "token exchange rejected", err)
	}
	if cred.Provider == "" {
		cred.Provider = p
	}

	if err = s.store.Save(ctx, *cred); err != nil {
		rollback()
		log.Error("failed to store credential", sl.Err(err))
		return nil, apperr.OAuthFailed(p, "credential storage failed", err)
	}

	s.setAuthenticated(user)
	log.Info("signed in", slog.String("user_id", user.ID))
	return s.CurrentUser(), nil
}

// ValidateSession проверяет сохранённый токен.
//
// Нет учётных данных — (false, nil). Токен не истёк — проверка на бэкенде: принят — (true, nil),
// отклонён — удаление учётных данных и TokenInvalid. Токен истёк — одна попытка обновления,
// при отказе — удаление и TokenExpired. Недоступность бэкенда не считается отказом в аутентификации.
func (s *Session) ValidateSession(ctx context.Context) (bool, error) {
	const op = "auth.Session.ValidateSession"
	log := s.log.With(slog.String("op", op))

	cred, err := s.store.Get(ctx)
	if err != nil {
		log.Warn("credential store unreadable, treating as absent", sl.Err(err))
		cred = nil
	}
	if cred == nil {
		s.setUnauthenticated()
		s.metrics.SessionValidated("absent")
		return false, nil
	}

	if !cred.Expired(s.clock.Now()) {
		valid, err := s.backend.ValidateToken(ctx, cred.AccessToken)
		if err != nil {
			// бэкенд недоступен: решаем по локальному сроку токена
			log.Warn("backend unreachable, trusting local token expiry", sl.Err(err))
			s.setAuthenticated(s.userFor(*cred))
			s.metrics.SessionValidated("network")
			return true, nil
		}
		if !valid {
			log.Info("token rejected by backend")
			s.cleanup(ctx)
			s.metrics.SessionValidated("invalid")
			return false, &apperr.AuthError{Kind: apperr.AuthTokenInvalid, Provider: cred.Provider}
		}
		s.setAuthenticated(s.userFor(*cred))
		s.metrics.SessionValidated("valid")
		return true, nil
	}

	if _, err = s.RefreshToken(ctx); err != nil {
		switch {
		case errors.Is(err, apperr.ErrAuthNetwork):
			log.Warn("token expired and backend unreachable, keeping credential", sl.Err(err))
			s.metrics.SessionValidated("network")
		case errors.Is(err, apperr.ErrTokenExpired):
			log.Info("token refresh rejected", sl.Err(err))
			s.cleanup(ctx)
			s.metrics.SessionValidated("expired")
		default:
			// сбой хранилища или отмена ctx: учётные данные не трогаем
			log.Error("token refresh failed", sl.Err(err))
			s.metrics.SessionValidated("error")
		}
		return false, err
	}
	s.metrics.SessionValidated("refreshed")
	return true, nil
}

// RefreshToken обменивает refresh токен на новые учётные данные и атомарно заменяет сохранённые.
// Сам по себе ничего не удаляет. Одновременные вызовы объединяются в один запрос.
func (s *Session) RefreshToken(ctx context.Context) (*models.Credential, error) {
	const op = "auth.Session.RefreshToken"

	// общий запрос не должен прерываться отменой ctx одного из ожидающих
	ch := s.refresh.DoChan("refresh", func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred := *res.Val.(*models.Credential)
		return &cred, nil
	}
}

func (s *Session) doRefresh(ctx context.Context) (*models.Credential, error) {
	const op = "auth.Session.RefreshToken"
	log := s.log.With(slog.String("op", op))

	cred, err := s.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cred == nil {
		return nil, &apperr.AuthError{Kind: apperr.AuthTokenExpired, Reason: "no stored credential"}
	}

	next, err := s.backend.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if isRejection(err) {
			return nil, &apperr.AuthError{Kind: apperr.AuthTokenExpired, Provider: cred.Provider, Err: err}
		}
		return nil, &apperr.AuthError{Kind: apperr.AuthNetwork, Provider: cred.Provider, Err: err}
	}
	if next.UserID == "" {
		next.UserID = cred.UserID
	}
	if next.Provider == "" {
		next.Provider = cred.Provider
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err = s.store.Save(ctx, *next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.setAuthenticated(s.userFor(*next))
	log.Debug("token refreshed", slog.String("user_id", next.UserID))
	return next, nil
}

// AccessToken возвращает действующий access токен. Истёкший токен обновляется.
func (s *Session) AccessToken(ctx context.Context) (string, bool) {
	const op = "auth.Session.AccessToken"

	cred, err := s.store.Get(ctx)
	if err != nil {
		s.log.Warn("credential store unreadable", slog.String("op", op), sl.Err(err))
		return "", false
	}
	if cred == nil {
		return "", false
	}
	if !cred.Expired(s.clock.Now()) {
		return cred.AccessToken, true
	}
	next, err := s.RefreshToken(ctx)
	if err != nil {
		s.log.Debug("no usable access token", slog.String("op", op), sl.Err(err))
		return "", false
	}
	return next.AccessToken, true
}

// SignOut завершает сессию: отзыв токена на бэкенде (без гарантий), удаление учётных данных,
// сброс пользователя и уведомление подписчиков. Повторный вызов безопасен.
func (s *Session) SignOut(ctx context.Context) error {
	const op = "auth.Session.SignOut"
	log := s.log.With(slog.String("op", op))

	cred, err := s.store.Get(ctx)
	if err != nil {
		log.Warn("credential store unreadable", sl.Err(err))
	}
	if cred != nil {
		if err = s.backend.Logout(ctx, cred.AccessToken); err != nil {
			log.Warn("backend logout failed", sl.Err(err))
		}
	}

	if err = s.store.Delete(ctx); err != nil {
		log.Error("failed to delete credential", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	s.setUnauthenticated()
	s.notifySignedOut(ctx)
	log.Info("signed out")
	return nil
}

func (s *Session) cleanup(ctx context.Context) {
	if err := s.store.Delete(ctx); err != nil {
		s.log.Error("failed to delete credential", slog.String("op", "auth.Session.cleanup"), sl.Err(err))
	}
	s.setUnauthenticated()
	s.notifySignedOut(ctx)
}

func (s *Session) notifySignedOut(ctx context.Context) {
	s.mu.RLock()
	listeners := append([]func(context.Context){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (s *Session) setAuthenticated(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAuthenticated
	s.user = user
}

func (s *Session) setUnauthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUnauthenticated
	s.user = nil
}

// профиль сохраняется, пока учётные данные принадлежат тому же пользователю
func (s *Session) userFor(cred models.Credential) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.ID == cred.UserID {
		u := *s.user
		return &u
	}
	return &models.User{ID: cred.UserID, Provider: cred.Provider}
}

func isNetwork(err error) bool {
	return errors.Is(err, backend.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// отказом считается только 401 или явная ошибка в ответе бэкенда
func isRejection(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized) || errors.Is(err, backend.ErrRejected)
}
