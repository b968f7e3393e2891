package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/session"
)

// mockSessionManager はSessionManagerのテスト実装。
type mockSessionManager struct {
	loginFn     func(ctx context.Context, email, password, redirectTo string) (string, string, error)
	signupFn    func(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error)
	logoutFn    func(ctx context.Context, sessionID string) (string, error)
	apiClientFn func(sessionID string) *apiclient.Client
}

func (m *mockSessionManager) Login(ctx context.Context, email, password, redirectTo string) (string, string, error) {
	return m.loginFn(ctx, email, password, redirectTo)
}

func (m *mockSessionManager) Signup(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error) {
	return m.signupFn(ctx, email, password, name, marketingOptIn)
}

func (m *mockSessionManager) Logout(ctx context.Context, sessionID string) (string, error) {
	return m.logoutFn(ctx, sessionID)
}

func (m *mockSessionManager) APIClient(sessionID string) *apiclient.Client {
	if m.apiClientFn != nil {
		return m.apiClientFn(sessionID)
	}
	return nil
}

// loginOutcomes はLoginRecorderのテスト実装。
type loginOutcomes struct {
	outcomes []string
}

func (l *loginOutcomes) RecordLogin(outcome string) {
	l.outcomes = append(l.outcomes, outcome)
}

// fakeProviderSession はProviderSessionのテスト実装。
type fakeProviderSession struct {
	events chan authprovider.Event
}

func newFakeProviderSession() *fakeProviderSession {
	return &fakeProviderSession{events: make(chan authprovider.Event, 8)}
}

func (f *fakeProviderSession) Token() string        { return "access-token" }
func (f *fakeProviderSession) RefreshToken() string { return "refresh-token" }
func (f *fakeProviderSession) Claims() (*authprovider.Claims, error) {
	return &authprovider.Claims{Subject: "sub-1", Email: "actor@example.com"}, nil
}
func (f *fakeProviderSession) Events() <-chan authprovider.Event { return f.events }
func (f *fakeProviderSession) Close()                            {}

// profileFunc は関数をsession.ProfileAPIとして使うアダプタ。
type profileFunc func(ctx context.Context) (*model.User, error)

func (f profileFunc) Me(ctx context.Context) (*model.User, error) { return f(ctx) }

// newAuthedStore はプロフィール同期済みの認証ストアを作る。
func newAuthedStore(t *testing.T, user *model.User) *session.Store {
	t.Helper()
	store := session.NewStore(session.StoreConfig{
		Profile: profileFunc(func(ctx context.Context) (*model.User, error) {
			return user, nil
		}),
		Logger: quietLogger(),
	})
	store.Start(context.Background(), newFakeProviderSession())
	return store
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func newAuthHandler(manager SessionManager, m LoginRecorder) *AuthHandler {
	return NewAuthHandler(manager, NewUIStateRegistry(UIStateConfig{Logger: quietLogger()}), AuthHandlerConfig{}, m, quietLogger())
}

func TestAuthHandler_Login_Success(t *testing.T) {
	manager := &mockSessionManager{
		loginFn: func(ctx context.Context, email, password, redirectTo string) (string, string, error) {
			assert.Equal(t, "actor@example.com", email)
			return "sess-new", "/dashboard", nil
		},
	}
	metrics := &loginOutcomes{}
	h := newAuthHandler(manager, metrics)

	req := authedRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "actor@example.com",
		"password": "secret",
	})
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RedirectTo string `json:"redirect_to"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "/dashboard", resp.RedirectTo)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, "sess-new", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, []string{"success"}, metrics.outcomes)
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	manager := &mockSessionManager{
		loginFn: func(ctx context.Context, email, password, redirectTo string) (string, string, error) {
			return "", "", authprovider.ErrInvalidCredentials
		},
	}
	metrics := &loginOutcomes{}
	h := newAuthHandler(manager, metrics)

	req := authedRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "actor@example.com",
		"password": "wrong",
	})
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Code)
	assert.Nil(t, sessionCookie(rec))
	assert.Equal(t, []string{"failure"}, metrics.outcomes)
}

func TestAuthHandler_Login_DropsExternalRedirect(t *testing.T) {
	var gotRedirect string
	manager := &mockSessionManager{
		loginFn: func(ctx context.Context, email, password, redirectTo string) (string, string, error) {
			gotRedirect = redirectTo
			return "sess-new", "/dashboard", nil
		},
	}
	h := newAuthHandler(manager, nil)

	for _, target := range []string{"https://evil.example.com/", "//evil.example.com/"} {
		req := authedRequest(t, http.MethodPost, "/auth/login", map[string]string{
			"email":       "actor@example.com",
			"password":    "secret",
			"redirect_to": target,
		})
		rec := httptest.NewRecorder()
		h.Login(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, gotRedirect)
	}
}

func TestAuthHandler_Login_MissingFields(t *testing.T) {
	h := newAuthHandler(&mockSessionManager{}, nil)

	req := authedRequest(t, http.MethodPost, "/auth/login", map[string]string{"email": "actor@example.com"})
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_Signup_AlreadyRegistered(t *testing.T) {
	manager := &mockSessionManager{
		signupFn: func(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error) {
			return "", "", model.NewAlreadyRegisteredError()
		},
	}
	h := newAuthHandler(manager, nil)

	req := authedRequest(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "actor@example.com",
		"password": "secret",
	})
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, model.ErrCodeAlreadyRegistered, body.Code)
}

func TestAuthHandler_Signup_Created(t *testing.T) {
	manager := &mockSessionManager{
		signupFn: func(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error) {
			assert.True(t, marketingOptIn)
			return "sess-new", "/onboarding", nil
		},
	}
	h := newAuthHandler(manager, nil)

	req := authedRequest(t, http.MethodPost, "/auth/signup", map[string]any{
		"email":            "actor@example.com",
		"password":         "secret",
		"name":             "山田花子",
		"marketing_opt_in": true,
	})
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, sessionCookie(rec))
}

func TestAuthHandler_Logout_NoCookie(t *testing.T) {
	h := newAuthHandler(&mockSessionManager{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RedirectTo string `json:"redirect_to"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "/goodbye", resp.RedirectTo)
}

func TestAuthHandler_Logout_ClearsCookieAndEvictsState(t *testing.T) {
	var loggedOut string
	manager := &mockSessionManager{
		logoutFn: func(ctx context.Context, sessionID string) (string, error) {
			loggedOut = sessionID
			return "/goodbye", nil
		},
	}
	registry := NewUIStateRegistry(UIStateConfig{Logger: quietLogger()})
	h := NewAuthHandler(manager, registry, AuthHandlerConfig{}, nil, quietLogger())

	// 事前にUI状態を作っておく
	registry.Get("sess-old", nil)
	require.Equal(t, 1, registry.Count())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-old"})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-old", loggedOut)
	assert.Equal(t, 0, registry.Count())

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestAuthHandler_Me_ReturnsUser(t *testing.T) {
	h := newAuthHandler(&mockSessionManager{}, nil)
	store := newAuthedStore(t, &model.User{ID: 42, Email: "actor@example.com", Name: "山田花子"})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), testSessionID, store))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		User     *model.User `json:"user"`
		Loading  bool        `json:"loading"`
		Degraded bool        `json:"degraded"`
	}
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.User)
	assert.Equal(t, int64(42), resp.User.ID)
	assert.False(t, resp.Degraded)
}

func TestAuthHandler_Me_NoStore(t *testing.T) {
	h := newAuthHandler(&mockSessionManager{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
