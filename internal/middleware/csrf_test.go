package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/serifu/internal/model"
)

// newCSRFProtectedMux は台詞投稿とログアウトを模した状態変更ルートに
// CSRF保護を掛けたハンドラーを返す。
func newCSRFProtectedMux(config CSRFConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/monologues/submissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return NewCSRFMiddleware(config)(mux)
}

func decodeCSRFError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗した: %v", err)
	}
	return body
}

func TestCSRFMiddleware_SafeMethodPassesAndIssuesToken(t *testing.T) {
	h := newCSRFProtectedMux(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GETのステータス = %d, want 200", rec.Code)
	}
	var issued *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("GETでトークンCookieが配られるべき")
	}
	if issued.HttpOnly {
		t.Error("トークンCookieはSPAが読むためHTTP Onlyにしない")
	}
	if issued.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", issued.SameSite)
	}
}

func TestCSRFMiddleware_SafeMethodKeepsExistingToken(t *testing.T) {
	h := newCSRFProtectedMux(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "existing-token"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			t.Error("配布済みのトークンCookieを上書きするべきではない")
		}
	}
}

func TestCSRFMiddleware_RejectsStateChangingRequests(t *testing.T) {
	h := newCSRFProtectedMux(CSRFConfig{})

	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{name: "Cookieなし", cookie: "", header: "token-abc"},
		{name: "ヘッダーなし", cookie: "token-abc", header: ""},
		{name: "トークン不一致", cookie: "token-abc", header: "token-xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/monologues/submissions", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusForbidden {
				t.Fatalf("ステータス = %d, want 403", rec.Code)
			}
			body := decodeCSRFError(t, rec)
			if body.Code != model.ErrCodeCSRFFailed {
				t.Errorf("エラーコード = %q, want %q", body.Code, model.ErrCodeCSRFFailed)
			}
			if body.Action == "" {
				t.Error("ユーザー向け対処方法が空であるべきではない")
			}
		})
	}
}

func TestCSRFMiddleware_AllowsMatchingToken(t *testing.T) {
	h := newCSRFProtectedMux(CSRFConfig{})

	for _, path := range []string{"/api/monologues/submissions", "/api/auth/logout"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "valid-token"})
		req.Header.Set(csrfHeaderName, "valid-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
			t.Errorf("POST %s のステータス = %d, 一致するトークンで通るべき", path, rec.Code)
		}
	}
}

func TestCSRFTokenHandler_IssuesToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true, CookieDomain: "serifu.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータス = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗した: %v", err)
	}
	token := body["token"]
	if len(token) != 64 {
		t.Errorf("トークン長 = %d, want 64 (32バイトのhex)", len(token))
	}

	var issued *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("トークンCookieが配られるべき")
	}
	if issued.Value != token {
		t.Error("Cookieの値とレスポンスのトークンは一致するべき")
	}
	if !issued.Secure {
		t.Error("CookieSecure=trueの場合はSecure属性が付くべき")
	}
	if issued.Domain != "serifu.example.com" {
		t.Errorf("Cookie Domain = %q, want serifu.example.com", issued.Domain)
	}
	if issued.MaxAge != csrfCookieMaxAge {
		t.Errorf("Cookie MaxAge = %d, want %d", issued.MaxAge, csrfCookieMaxAge)
	}
}

func TestCSRFTokenHandler_ReusesExistingToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "existing-csrf-token"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗した: %v", err)
	}
	if body["token"] != "existing-csrf-token" {
		t.Errorf("トークン = %q, 既存のCookie値を返すべき", body["token"])
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			t.Error("既存トークンがある場合はCookieを再発行するべきではない")
		}
	}
}
