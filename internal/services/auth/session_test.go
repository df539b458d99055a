package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/clients/backend"
	"github.com/magabrotheeeer/entitlement/internal/clients/identity"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ExchangeToken(ctx context.Context, pc models.ProviderCredential) (*models.Credential, *models.User, error) {
	args := m.Called(ctx, pc)
	cred, _ := args.Get(0).(*models.Credential)
	user, _ := args.Get(1).(*models.User)
	return cred, user, args.Error(2)
}

func (m *BackendMock) ValidateToken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *BackendMock) RefreshToken(ctx context.Context, refreshToken string) (*models.Credential, error) {
	args := m.Called(ctx, refreshToken)
	cred, _ := args.Get(0).(*models.Credential)
	return cred, args.Error(1)
}

func (m *BackendMock) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

type memStore struct {
	mu      sync.Mutex
	cred    *models.Credential
	readErr error
}

func (s *memStore) Save(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &cred
	return nil
}

func (s *memStore) Get(context.Context) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *memStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) (*Session, *memStore, *BackendMock, *clock.Manual) {
	t.Helper()
	store := &memStore{}
	b := &BackendMock{}
	clk := clock.NewManual(epoch)
	s := NewSession(store, b, clk, nil, sl.Discard())
	s.RegisterProvider(models.ProviderApple, identity.NewStatic(models.ProviderApple, "code-1", "Li Lei", "li@example.com"))
	s.RegisterProvider(models.ProviderWeChat, identity.NewStatic(models.ProviderWeChat, "", "", ""))
	return s, store, b, clk
}

func credential(expiresAt time.Time) *models.Credential {
	return &models.Credential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		Provider:     models.ProviderApple,
	}
}

func TestSignIn_Success(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	user := &models.User{ID: "user-1", DisplayName: "Li Lei", Provider: models.ProviderApple}
	b.On("ExchangeToken", mock.Anything, mock.MatchedBy(func(pc models.ProviderCredential) bool {
		return pc.AuthCode == "code-1" && pc.Provider == models.ProviderApple
	})).Return(credential(epoch.Add(time.Hour)), user, nil).Once()

	got, err := s.SignIn(context.Background(), models.ProviderApple)
	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "user-1", s.CurrentUser().ID)

	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "access-1", stored.AccessToken)
	b.AssertExpectations(t)
}

func TestSignIn_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider models.Provider
		setup    func(b *BackendMock)
		wantErr  error
	}{
		{
			name:     "user cancelled",
			provider: models.ProviderWeChat,
			setup:    func(*BackendMock) {},
			wantErr:  apperr.ErrAuthCancelled,
		},
		{
			name:     "provider not registered",
			provider: models.ProviderAlipay,
			setup:    func(*BackendMock) {},
			wantErr:  apperr.ErrNotImplemented,
		},
		{
			name:     "exchange rejected",
			provider: models.ProviderApple,
			setup: func(b *BackendMock) {
				b.On("ExchangeToken", mock.Anything, mock.Anything).Return(nil, nil, backend.ErrRejected).Once()
			},
			wantErr: apperr.ErrOAuthFailed,
		},
		{
			name:     "backend unreachable",
			provider: models.ProviderApple,
			setup: func(b *BackendMock) {
				b.On("ExchangeToken", mock.Anything, mock.Anything).Return(nil, nil, backend.ErrUnavailable).Once()
			},
			wantErr: apperr.ErrAuthNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, b, _ := newTestSession(t)
			tt.setup(b)

			user, err := s.SignIn(context.Background(), tt.provider)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, user)
			assert.Equal(t, StateUnauthenticated, s.State())
			assert.Nil(t, s.CurrentUser())

			stored, err := store.Get(context.Background())
			require.NoError(t, err)
			assert.Nil(t, stored)
			b.AssertExpectations(t)
		})
	}
}

func TestSignIn_CancelKeepsPreviousSession(t *testing.T) {
	s, store, _, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
	require.Equal(t, StateAuthenticated, s.Restore(context.Background()))

	_, err := s.SignIn(context.Background(), models.ProviderWeChat)
	assert.ErrorIs(t, err, apperr.ErrAuthCancelled)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "user-1", s.CurrentUser().ID)
}

func TestValidateSession(t *testing.T) {
	tests := []struct {
		name       string
		stored     *models.Credential
		setup      func(b *BackendMock)
		wantValid  bool
		wantErr    error
		wantState  State
		wantStored bool
	}{
		{
			name:      "no credential",
			setup:     func(*BackendMock) {},
			wantState: StateUnauthenticated,
		},
		{
			name:   "valid token",
			stored: credential(epoch.Add(time.Hour)),
			setup: func(b *BackendMock) {
				b.On("ValidateToken", mock.Anything, "access-1").Return(true, nil).Once()
			},
			wantValid:  true,
			wantState:  StateAuthenticated,
			wantStored: true,
		},
		{
			name:   "token rejected",
			stored: credential(epoch.Add(time.Hour)),
			setup: func(b *BackendMock) {
				b.On("ValidateToken", mock.Anything, "access-1").Return(false, nil).Once()
			},
			wantErr:   apperr.ErrTokenInvalid,
			wantState: StateUnauthenticated,
		},
		{
			name:   "backend unreachable with live token",
			stored: credential(epoch.Add(time.Hour)),
			setup: func(b *BackendMock) {
				b.On("ValidateToken", mock.Anything, "access-1").Return(false, backend.ErrUnavailable).Once()
			},
			wantValid:  true,
			wantState:  StateAuthenticated,
			wantStored: true,
		},
		{
			name:   "expired token refreshed",
			stored: credential(epoch.Add(-time.Minute)),
			setup: func(b *BackendMock) {
				next := credential(epoch.Add(time.Hour))
				next.AccessToken = "access-2"
				b.On("RefreshToken", mock.Anything, "refresh-1").Return(next, nil).Once()
			},
			wantValid:  true,
			wantState:  StateAuthenticated,
			wantStored: true,
		},
		{
			name:   "expired token and refresh rejected",
			stored: credential(epoch.Add(-time.Minute)),
			setup: func(b *BackendMock) {
				b.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, backend.ErrUnauthorized).Once()
			},
			wantErr:   apperr.ErrTokenExpired,
			wantState: StateUnauthenticated,
		},
		{
			name:   "expired token and backend unreachable",
			stored: credential(epoch.Add(-time.Minute)),
			setup: func(b *BackendMock) {
				b.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, backend.ErrUnavailable).Once()
			},
			wantErr:    apperr.ErrAuthNetwork,
			wantState:  StateUnauthenticated,
			wantStored: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, b, _ := newTestSession(t)
			if tt.stored != nil {
				require.NoError(t, store.Save(context.Background(), *tt.stored))
			}
			tt.setup(b)

			valid, err := s.ValidateSession(context.Background())
			assert.Equal(t, tt.wantValid, valid)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, s.State())

			stored, err := store.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStored, stored != nil)
			b.AssertExpectations(t)
		})
	}
}

func TestValidateSession_UnreadableStoreIsAbsent(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	store.readErr = errors.New("disk on fire")

	valid, err := s.ValidateSession(context.Background())
	assert.False(t, valid)
	assert.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, s.State())
	b.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
}

func TestValidateSession_FailureNotifiesListeners(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
	b.On("ValidateToken", mock.Anything, "access-1").Return(false, nil).Once()

	var calls int
	s.OnSignedOut(func(context.Context) { calls++ })

	_, err := s.ValidateSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRefreshToken_KeepsIdentityFields(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
	b.On("RefreshToken", mock.Anything, "refresh-1").Return(&models.Credential{
		AccessToken: "access-2",
		TokenType:   "Bearer",
		ExpiresAt:   epoch.Add(time.Hour),
	}, nil).Once()

	got, err := s.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, models.ProviderApple, got.Provider)

	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *got, *stored)
}

func TestRefreshToken_RejectedDoesNotDelete(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
	b.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, backend.ErrUnauthorized).Once()

	_, err := s.RefreshToken(context.Background())
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)

	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

type slowRefresher struct {
	BackendMock
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowRefresher) RefreshToken(context.Context, string) (*models.Credential, error) {
	s.calls.Add(1)
	<-s.release
	next := credential(epoch.Add(time.Hour))
	next.AccessToken = "access-2"
	return next, nil
}

func TestRefreshToken_ConcurrentCallsShareOneRequest(t *testing.T) {
	store := &memStore{}
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
	b := &slowRefresher{release: make(chan struct{})}
	s := NewSession(store, b, clock.NewManual(epoch), nil, sl.Discard())

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := s.RefreshToken(context.Background())
			if err == nil {
				tokens[i] = cred.AccessToken
			}
		}(i)
	}

	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "access-2", tok)
	}
}

func TestAccessToken(t *testing.T) {
	t.Run("none stored", func(t *testing.T) {
		s, _, _, _ := newTestSession(t)
		tok, ok := s.AccessToken(context.Background())
		assert.False(t, ok)
		assert.Empty(t, tok)
	})

	t.Run("live token", func(t *testing.T) {
		s, store, _, _ := newTestSession(t)
		require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
		tok, ok := s.AccessToken(context.Background())
		assert.True(t, ok)
		assert.Equal(t, "access-1", tok)
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		s, store, b, clk := newTestSession(t)
		require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
		clk.Advance(2 * time.Hour)
		next := credential(clk.Now().Add(time.Hour))
		next.AccessToken = "access-2"
		b.On("RefreshToken", mock.Anything, "refresh-1").Return(next, nil).Once()

		tok, ok := s.AccessToken(context.Background())
		assert.True(t, ok)
		assert.Equal(t, "access-2", tok)
	})
}

func TestSignOut_Idempotent(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
	require.Equal(t, StateAuthenticated, s.Restore(context.Background()))
	b.On("Logout", mock.Anything, "access-1").Return(backend.ErrUnavailable).Once()

	var calls int
	s.OnSignedOut(func(context.Context) { calls++ })

	require.NoError(t, s.SignOut(context.Background()))
	require.NoError(t, s.SignOut(context.Background()))

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Nil(t, s.CurrentUser())
	assert.Equal(t, 2, calls)
	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
	b.AssertExpectations(t)
}

func TestRestore(t *testing.T) {
	s, store, _, clk := newTestSession(t)
	assert.Equal(t, StateUnauthenticated, s.Restore(context.Background()))

	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(time.Hour))))
	assert.Equal(t, StateAuthenticated, s.Restore(context.Background()))

	clk.Advance(time.Hour)
	assert.Equal(t, StateUnauthenticated, s.Restore(context.Background()))
}

func TestTokensAreNotLogged(t *testing.T) {
	var buf bytes.Buffer
	store := &memStore{}
	b := &BackendMock{}
	s := NewSession(store, b, clock.NewManual(epoch), nil, sl.New(sl.EnvLocal, &buf))
	s.RegisterProvider(models.ProviderApple, identity.NewStatic(models.ProviderApple, "code-1", "", ""))

	b.On("ExchangeToken", mock.Anything, mock.Anything).
		Return(credential(epoch.Add(-time.Minute)), &models.User{ID: "user-1"}, nil).Once()
	b.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, backend.ErrUnauthorized).Once()
	b.On("Logout", mock.Anything, mock.Anything).Return(nil).Maybe()

	_, err := s.SignIn(context.Background(), models.ProviderApple)
	require.NoError(t, err)
	_, err = s.ValidateSession(context.Background())
	require.Error(t, err)
	require.NoError(t, s.SignOut(context.Background()))

	assert.NotEmpty(t, buf.String())
	assert.NotContains(t, buf.String(), "access-1")
	assert.NotContains(t, buf.String(), "refresh-1")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
}

func TestValidateSession_RefreshAgainstBackend(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    error
		wantStored bool
	}{
		{
			name:       "throttled refresh",
			status:     http.StatusTooManyRequests,
			body:       `{"status":"Error","error":"too many requests"}`,
			wantErr:    apperr.ErrAuthNetwork,
			wantStored: true,
		},
		{
			name:       "captive portal page",
			status:     http.StatusOK,
			body:       "<html><body>Sign in to the Wi-Fi</body></html>",
			wantErr:    apperr.ErrAuthNetwork,
			wantStored: true,
		},
		{
			name:       "request timeout",
			status:     http.StatusRequestTimeout,
			wantErr:    apperr.ErrAuthNetwork,
			wantStored: true,
		},
		{
			name:    "refresh token revoked",
			status:  http.StatusUnauthorized,
			body:    `{"status":"Error","error":"invalid refresh token"}`,
			wantErr: apperr.ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/auth/token/refresh", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			client, err := backend.NewClient(srv.URL+"/api/v1", time.Second, sl.Discard())
			require.NoError(t, err)

			store := &memStore{}
			require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
			s := NewSession(store, client, clock.NewManual(epoch), nil, sl.Discard())

			var signedOut int
			s.OnSignedOut(func(context.Context) { signedOut++ })

			valid, err := s.ValidateSession(context.Background())
			assert.False(t, valid)
			assert.ErrorIs(t, err, tt.wantErr)

			stored, err := store.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStored, stored != nil)
			if tt.wantStored {
				assert.Zero(t, signedOut)
			} else {
				assert.Equal(t, 1, signedOut)
			}
		})
	}
}

func TestValidateSession_ExpiredErrorNotNested(t *testing.T) {
	s, store, b, _ := newTestSession(t)
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
	b.On("RefreshToken", mock.Anything, "refresh-1").Return(nil, backend.ErrUnauthorized).Once()

	_, err := s.ValidateSession(context.Background())
	require.ErrorIs(t, err, apperr.ErrTokenExpired)
	assert.Equal(t, 1, strings.Count(err.Error(), "token_expired"), err.Error())
}

// ctxRefresher, в отличие от slowRefresher, прерывается отменой ctx запроса.
type ctxRefresher struct {
	BackendMock
	calls   atomic.Int32
	release chan struct{}
}

func (r *ctxRefresher) RefreshToken(ctx context.Context, _ string) (*models.Credential, error) {
	r.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.release:
	}
	next := credential(epoch.Add(time.Hour))
	next.AccessToken = "access-2"
	return next, nil
}

func TestRefreshToken_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &memStore{}
	require.NoError(t, store.Save(context.Background(), *credential(epoch.Add(-time.Minute))))
	b := &ctxRefresher{release: make(chan struct{})}
	s := NewSession(store, b, clock.NewManual(epoch), nil, sl.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.RefreshToken(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondTok := make(chan string, 1)
	go func() {
		cred, err := s.RefreshToken(context.Background())
		if err != nil {
			secondTok <- err.Error()
			return
		}
		secondTok <- cred.AccessToken
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(b.release)
	assert.Equal(t, "access-2", <-secondTok)

	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
}
