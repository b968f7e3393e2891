package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
)

// PrefsStore は表示設定と検索履歴のローカル保存。localstore.Storeが実装する。
type PrefsStore interface {
	SetTheme(ctx context.Context, sessionID, theme string) error
	Theme(ctx context.Context, sessionID string) (string, error)
	SearchHistory(ctx context.Context, sessionID string) ([]string, error)
}

// PrefsHandler はユーザーのローカル設定のHTTPハンドラー。
// ここで扱う設定はバックエンドのプロフィールとは独立した
// ブラウザセッション単位の表示設定で、ログアウトで消える。
type PrefsHandler struct {
	prefs  PrefsStore
	logger *slog.Logger
}

// NewPrefsHandler はPrefsHandlerを生成する。
func NewPrefsHandler(prefs PrefsStore, logger *slog.Logger) *PrefsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrefsHandler{prefs: prefs, logger: logger}
}

// themeRequest はテーマ変更のリクエストボディ。
type themeRequest struct {
	Theme string `json:"theme"`
}

// themeResponse は現在のテーマ設定。
type themeResponse struct {
	Theme string `json:"theme"`
}

// historyResponse は検索履歴の一覧。
type historyResponse struct {
	Queries []string `json:"queries"`
}

// validThemes は受け付けるテーマ名。
var validThemes = map[string]bool{
	"light":  true,
	"dark":   true,
	"system": true,
}

// GetTheme は現在のテーマ設定を返す。未設定ならsystem。
// GET /api/prefs/theme
func (h *PrefsHandler) GetTheme(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	theme, err := h.prefs.Theme(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("theme lookup failed", slog.String("error", err.Error()))
	}
	if theme == "" {
		theme = "system"
	}
	writeJSON(w, themeResponse{Theme: theme})
}

// SetTheme はテーマ設定を保存する。
// PUT /api/prefs/theme
func (h *PrefsHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if !validThemes[req.Theme] {
		middleware.WriteAPIError(w, model.NewValidationError("テーマはlight、dark、systemのいずれかを指定してください。"))
		return
	}

	if err := h.prefs.SetTheme(r.Context(), sessionID, req.Theme); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, themeResponse{Theme: req.Theme})
}

// SearchHistory は検索履歴を新しい順で返す。
// GET /api/prefs/search-history
func (h *PrefsHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	queries, err := h.prefs.SearchHistory(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("search history lookup failed", slog.String("error", err.Error()))
		queries = nil
	}
	if queries == nil {
		queries = []string{}
	}
	writeJSON(w, historyResponse{Queries: queries})
}
