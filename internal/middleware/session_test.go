package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/session"
)

// --- モック定義 ---

type mockResolver struct {
	resolveFn func(ctx context.Context, sessionID string) (*session.Store, error)
}

func (m *mockResolver) Resolve(ctx context.Context, sessionID string) (*session.Store, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, sessionID)
	}
	return nil, session.ErrSessionNotFound
}

// fakeProviderSession はテスト用のライブセッション。
type fakeProviderSession struct {
	events chan authprovider.Event
}

func newFakeProviderSession() *fakeProviderSession {
	return &fakeProviderSession{events: make(chan authprovider.Event, 8)}
}

func (f *fakeProviderSession) Token() string        { return "access-token" }
func (f *fakeProviderSession) RefreshToken() string { return "refresh-token" }
func (f *fakeProviderSession) Claims() (*authprovider.Claims, error) {
	return &authprovider.Claims{Subject: "sub", Email: "actor@example.com"}, nil
}
func (f *fakeProviderSession) Events() <-chan authprovider.Event { return f.events }
func (f *fakeProviderSession) Close()                            { close(f.events) }

// profileFunc はProfileAPIを関数1つで満たすアダプタ。
type profileFunc func(ctx context.Context) (*model.User, error)

func (f profileFunc) Me(ctx context.Context) (*model.User, error) { return f(ctx) }

// newAuthedStore は指定ユーザーで同期済みの認証ストアを生成する。
func newAuthedStore(t *testing.T, user *model.User) *session.Store {
	t.Helper()
	store := session.NewStore(session.StoreConfig{
		Profile: profileFunc(func(ctx context.Context) (*model.User, error) {
			return user, nil
		}),
		Logger: slog.Default(),
	})
	store.Start(context.Background(), newFakeProviderSession())
	return store
}

func quietLogger() *slog.Logger {
	return slog.Default()
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsStore(t *testing.T) {
	store := newAuthedStore(t, &model.User{ID: 42, Email: "actor@example.com"})
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, sessionID string) (*session.Store, error) {
			if sessionID == "valid-session-id" {
				return store, nil
			}
			return nil, session.ErrSessionNotFound
		},
	}

	mw := NewSessionMiddleware(resolver, quietLogger())

	var capturedSessionID string
	var capturedUserID int64
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := SessionIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedSessionID = sessionID

		got, err := StoreFromContext(r.Context())
		if err != nil {
			t.Errorf("expected store in context, got %v", err)
		} else if u := got.User(); u != nil {
			capturedUserID = u.ID
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if capturedSessionID != "valid-session-id" {
		t.Errorf("sessionID = %q, want %q", capturedSessionID, "valid-session-id")
	}
	if capturedUserID != 42 {
		t.Errorf("userID = %d, want 42", capturedUserID)
	}
}

func TestSessionMiddleware_NoSessionCookie_Returns401(t *testing.T) {
	mw := NewSessionMiddleware(&mockResolver{}, quietLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_EmptySessionCookie_Returns401(t *testing.T) {
	mw := NewSessionMiddleware(&mockResolver{}, quietLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: ""})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_UnknownSession_ClearsCookieAndReturns401(t *testing.T) {
	mw := NewSessionMiddleware(&mockResolver{}, quietLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	// 失効したCookieが破棄されること
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

func TestSessionMiddleware_ResolverError_Returns401(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, sessionID string) (*session.Store, error) {
			return nil, context.DeadlineExceeded
		},
	}
	mw := NewSessionMiddleware(resolver, quietLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "some-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestAdminOnlyMiddleware_AdminPasses(t *testing.T) {
	store := newAuthedStore(t, &model.User{ID: 1, IsAdmin: true})
	mw := NewAdminOnlyMiddleware()

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/monologues", nil)
	req = req.WithContext(ContextWithSession(req.Context(), "admin-session", store))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}

func TestAdminOnlyMiddleware_NonAdmin_Returns403(t *testing.T) {
	store := newAuthedStore(t, &model.User{ID: 2, IsAdmin: false})
	mw := NewAdminOnlyMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/monologues", nil)
	req = req.WithContext(ContextWithSession(req.Context(), "user-session", store))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestAdminOnlyMiddleware_NoStore_Returns401(t *testing.T) {
	mw := NewAdminOnlyMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/monologues", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSessionIDFromContext_NoValue_ReturnsError(t *testing.T) {
	ctx := context.Background()
	_, err := SessionIDFromContext(ctx)
	if err == nil {
		t.Error("expected error for missing session ID in context")
	}
}

func TestSessionIDFromContext_ValidValue_ReturnsSessionID(t *testing.T) {
	ctx := context.WithValue(context.Background(), sessionIDContextKey, "sess-456")
	sessionID, err := SessionIDFromContext(ctx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if sessionID != "sess-456" {
		t.Errorf("sessionID = %q, want %q", sessionID, "sess-456")
	}
}
