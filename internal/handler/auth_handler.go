// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
)

// SessionManager は認証ハンドラーが必要とするセッション管理操作。
// session.Managerの部分集合として定義する。
type SessionManager interface {
	// Login は認証してセッションを発行し、セッションIDと遷移先パスを返す。
	Login(ctx context.Context, email, password, redirectTo string) (string, string, error)
	// Signup は新規登録してセッションを発行し、セッションIDと遷移先パスを返す。
	Signup(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error)
	// Logout はセッションを破棄し、ログアウト後の遷移先パスを返す。
	Logout(ctx context.Context, sessionID string) (string, error)
	// APIClient はセッションに紐づくAPIクライアントを返す。未知のセッションはnil。
	APIClient(sessionID string) *apiclient.Client
}

// LoginRecorder はログイン結果のメトリクス記録。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge time.Duration
}

// AuthHandler は認証フローのHTTPハンドラー。
type AuthHandler struct {
	manager  SessionManager
	uiStates *UIStateRegistry
	config   AuthHandlerConfig
	metrics  LoginRecorder
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(manager SessionManager, uiStates *UIStateRegistry, config AuthHandlerConfig, m LoginRecorder, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		manager:  manager,
		uiStates: uiStates,
		config:   config,
		metrics:  m,
		logger:   logger,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	MarketingOptIn bool   `json:"marketing_opt_in"`
}

// authResponse は認証成功レスポンス。遷移先パスを含む。
type authResponse struct {
	RedirectTo string `json:"redirect_to"`
}

// meResponse は現在のユーザー状態のレスポンス。
type meResponse struct {
	User     *model.User `json:"user"`
	Loading  bool        `json:"loading"`
	Degraded bool        `json:"degraded"`
}

// Login はメールアドレスとパスワードでのログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.Email == "" || req.Password == "" {
		middleware.WriteAPIError(w, model.NewValidationError("メールアドレスとパスワードを入力してください。"))
		return
	}

	// オープンリダイレクト防止: 遷移先はサイト内パスに限定する
	if req.RedirectTo != "" && !isLocalPath(req.RedirectTo) {
		req.RedirectTo = ""
	}

	sessionID, redirectTo, err := h.manager.Login(r.Context(), req.Email, req.Password, req.RedirectTo)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLogin("failure")
		}
		if errors.Is(err, authprovider.ErrInvalidCredentials) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
				Code:     "INVALID_CREDENTIALS",
				Message:  "メールアドレスまたはパスワードが正しくありません。",
				Category: "auth",
				Action:   "入力内容を確認して再度お試しください。",
			})
			return
		}
		middleware.WriteAPIError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLogin("success")
	}
	h.setSessionCookie(w, sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{RedirectTo: redirectTo})
}

// Signup は新規登録を処理する。
// POST /auth/signup
// 登録済みメールアドレスは409、メール確認待ちも409で区別されたコードを返す。
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.Email == "" || req.Password == "" {
		middleware.WriteAPIError(w, model.NewValidationError("メールアドレスとパスワードを入力してください。"))
		return
	}

	sessionID, redirectTo, err := h.manager.Signup(r.Context(), req.Email, req.Password, req.Name, req.MarketingOptIn)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	h.setSessionCookie(w, sessionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResponse{RedirectTo: redirectTo})
}

// Logout はログアウトを処理する。
// POST /auth/logout
// セッションCookieが無い場合も成功として扱い、ログアウト後の遷移先を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(authResponse{RedirectTo: "/goodbye"})
		return
	}

	redirectTo, err := h.manager.Logout(r.Context(), cookie.Value)
	if err != nil {
		// ローカルのセッションは破棄済み。ログだけ残して成功として扱う。
		h.logger.Warn("logout completed with provider error",
			slog.String("error", err.Error()),
		)
	}
	h.uiStates.Evict(cookie.Value)
	h.clearSessionCookie(w)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{RedirectTo: redirectTo})
}

// Me は現在のユーザー状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user := store.User()
	resp := meResponse{
		User:    user,
		Loading: store.Loading(),
	}
	if user != nil {
		resp.Degraded = user.IsDegraded()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Refresh はプロフィールの再取得を強制する。
// POST /auth/refresh
// オンボーディング完了直後など、スロットルを待たずに最新状態が必要な場面で使う。
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	store.RefreshUser(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		User:    store.User(),
		Loading: store.Loading(),
	})
}

// onboardingRequest はオンボーディングフラグ更新のボディ。
// 未指定のフラグは変更しない。
type onboardingRequest struct {
	HasSeenSearchTour  *bool `json:"has_seen_search_tour,omitempty"`
	HasSeenProfileTour *bool `json:"has_seen_profile_tour,omitempty"`
}

// Onboarding はオンボーディングの閲覧済みフラグを更新する。
// PATCH /api/auth/onboarding
// バックエンドへ反映した後、プロフィールを再取得して返す。
func (h *AuthHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	api := h.manager.APIClient(sessionID)
	if api == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req onboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if _, err := api.Patch(r.Context(), "/api/auth/onboarding", req, nil, nil); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	store.RefreshUser(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		User:    store.User(),
		Loading: store.Loading(),
	})
}

// setSessionCookie はセッションIDをHTTP Only Cookieとして設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを破棄する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalPath はサイト内パス（先頭が"/"でプロトコル相対でない）かを判定する。
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

// writeInvalidRequest はリクエストボディ解析失敗の統一レスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}
