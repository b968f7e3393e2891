package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/favorites"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/monologue"
	"github.com/hitoshi/serifu/internal/querycache"
)

// APIClientSource はセッションIDからAPIクライアントを引くインターフェース。
// session.Managerの部分集合として定義する。
type APIClientSource interface {
	APIClient(sessionID string) *apiclient.Client
}

// ToggleRecorder はお気に入りトグル結果のメトリクス記録。
type ToggleRecorder interface {
	RecordToggle(outcome string)
}

// MonologueHandler はモノローグ関連のHTTPハンドラー。
// 一覧はセッションごとのクエリキャッシュ越しに提供し、
// お気に入りトグルは楽観的更新サービスに委譲する。
type MonologueHandler struct {
	clients   APIClientSource
	uiStates  *UIStateRegistry
	previewer *monologue.Previewer
	metrics   ToggleRecorder
	logger    *slog.Logger
}

// NewMonologueHandler はMonologueHandlerを生成する。
// previewerはセッションに依存しないためレジストリとは別に受け取る。
func NewMonologueHandler(clients APIClientSource, uiStates *UIStateRegistry, previewer *monologue.Previewer, m ToggleRecorder, logger *slog.Logger) *MonologueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonologueHandler{
		clients:   clients,
		uiStates:  uiStates,
		previewer: previewer,
		metrics:   m,
		logger:    logger,
	}
}

// listResponse はモノローグ一覧のレスポンス。
type listResponse struct {
	Items []model.Monologue `json:"items"`
	// Stale は失効済みキャッシュを暫定表示していることを示す。
	Stale bool `json:"stale,omitempty"`
}

// toggleRequest はお気に入りトグルのリクエストボディ。
// is_favoritedはクライアントが現在表示している状態。
type toggleRequest struct {
	IsFavorited bool `json:"is_favorited"`
}

// toggleResponse はトグル後の状態。
type toggleResponse struct {
	Monologue *model.Monologue `json:"monologue,omitempty"`
	// Skipped は同一IDのトグルが進行中で無視されたことを示す。
	Skipped bool `json:"skipped,omitempty"`
}

// previewRequest は出典リンクプレビューのリクエストボディ。
type previewRequest struct {
	URL string `json:"url"`
}

// state はリクエストのセッションに対応するUIStateとセッションIDを返す。
func (h *MonologueHandler) state(r *http.Request) (*UIState, string, error) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		return nil, "", err
	}
	api := h.clients.APIClient(sessionID)
	if api == nil {
		return nil, "", errors.New("no API client for session")
	}
	return h.uiStates.Get(sessionID, api), sessionID, nil
}

// Search はモノローグを検索する。
// GET /api/monologues/search?q=...&genre=...&tone=...&min_words=...&max_words=...&limit=...
func (h *MonologueHandler) Search(w http.ResponseWriter, r *http.Request) {
	state, sessionID, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		middleware.WriteAPIError(w, model.NewValidationError("検索語を入力してください。"))
		return
	}

	filters := monologue.SearchFilters{
		Genre:        q.Get("genre"),
		Tone:         q.Get("tone"),
		MinWordCount: intParam(q.Get("min_words")),
		MaxWordCount: intParam(q.Get("max_words")),
		Limit:        intParam(q.Get("limit")),
	}

	ctx := state.Cache.BeginRefetch(r.Context(), querycache.SlotSearch)
	items, err := state.Monologues.Search(ctx, sessionID, query, filters)
	if err != nil {
		h.writeListError(w, state, querycache.SlotSearch, err)
		return
	}
	state.Cache.SetList(querycache.SlotSearch, items)
	state.Cache.EndRefetch(querycache.SlotSearch)

	writeJSON(w, listResponse{Items: items})
}

// Recommendations は推薦一覧を返す。
// GET /api/monologues/recommendations?limit=...&fast=...
func (h *MonologueHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	q := r.URL.Query()
	limit := intParam(q.Get("limit"))
	fast := q.Get("fast") == "true"

	slot := querycache.SlotRecommendations
	if fast {
		slot = querycache.SlotRecommendationsFast
	}

	if h.serveCached(w, state, slot) {
		return
	}

	ctx := state.Cache.BeginRefetch(r.Context(), slot)
	items, err := state.Monologues.Recommendations(ctx, limit, fast)
	if err != nil {
		h.writeListError(w, state, slot, err)
		return
	}
	state.Cache.SetList(slot, items)
	state.Cache.EndRefetch(slot)

	writeJSON(w, listResponse{Items: items})
}

// Discover は発見フィードを返す。
// GET /api/monologues/discover?limit=...
func (h *MonologueHandler) Discover(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	limit := intParam(r.URL.Query().Get("limit"))

	if h.serveCached(w, state, querycache.SlotDiscover) {
		return
	}

	ctx := state.Cache.BeginRefetch(r.Context(), querycache.SlotDiscover)
	items, err := state.Monologues.Discover(ctx, limit)
	if err != nil {
		h.writeListError(w, state, querycache.SlotDiscover, err)
		return
	}
	state.Cache.SetList(querycache.SlotDiscover, items)
	state.Cache.EndRefetch(querycache.SlotDiscover)

	writeJSON(w, listResponse{Items: items})
}

// MyFavorites はお気に入り一覧を返す。
// GET /api/monologues/favorites/my
func (h *MonologueHandler) MyFavorites(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if h.serveCached(w, state, querycache.SlotBookmarks) {
		return
	}

	ctx := state.Cache.BeginRefetch(r.Context(), querycache.SlotBookmarks)
	items, err := state.Monologues.MyFavorites(ctx)
	if err != nil {
		h.writeListError(w, state, querycache.SlotBookmarks, err)
		return
	}
	state.Cache.SetList(querycache.SlotBookmarks, items)
	state.Cache.EndRefetch(querycache.SlotBookmarks)

	writeJSON(w, listResponse{Items: items})
}

// Detail はモノローグ詳細を返す。
// GET /api/monologues/{id}
func (h *MonologueHandler) Detail(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, err := monologueID(r)
	if err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("モノローグIDが不正です。"))
		return
	}

	if cached := state.Cache.Detail(id); cached != nil && !state.Cache.IsDetailStale(id) {
		writeJSON(w, cached)
		return
	}

	m, err := state.Monologues.Detail(r.Context(), id)
	if err != nil {
		// 失効済みでも手元にあれば暫定表示する
		if cached := state.Cache.Detail(id); cached != nil {
			h.logger.Warn("serving stale detail after fetch failure",
				slog.Int64("monologue_id", id),
				slog.String("error", err.Error()),
			)
			writeJSON(w, cached)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	state.Cache.SetDetail(m)

	writeJSON(w, m)
}

// ToggleFavorite はお気に入りのトグルを処理する。
// POST /api/monologues/{id}/favorite
// 同一IDのトグルが進行中の場合は黙って無視し、現在の状態を返す。
func (h *MonologueHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, err := monologueID(r)
	if err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("モノローグIDが不正です。"))
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	err = state.Favorites.Toggle(r.Context(), id, req.IsFavorited)
	switch {
	case errors.Is(err, favorites.ErrToggleInFlight):
		if h.metrics != nil {
			h.metrics.RecordToggle("skipped")
		}
		writeJSON(w, toggleResponse{Monologue: state.Cache.Find(id), Skipped: true})
		return
	case err != nil:
		if h.metrics != nil {
			h.metrics.RecordToggle("failure")
		}
		// キャッシュはロールバック済み。失敗は通知センターにも積まれている。
		h.writeServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordToggle("success")
	}
	writeJSON(w, toggleResponse{Monologue: state.Cache.Find(id)})
}

// Submit はモノローグ投稿を処理する。
// POST /api/monologues/submissions
func (h *MonologueHandler) Submit(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var sub model.MonologueSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeInvalidRequest(w)
		return
	}

	created, err := state.Submitter.Submit(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// PreviewSource は出典リンクのプレビューを返す。
// POST /api/monologues/submissions/preview
func (h *MonologueHandler) PreviewSource(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.URL == "" {
		middleware.WriteAPIError(w, model.NewValidationError("出典URLを入力してください。"))
		return
	}

	preview, err := h.previewer.Fetch(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("link preview failed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewValidationError("出典URLのプレビューを取得できませんでした。"))
		return
	}

	writeJSON(w, preview)
}

// serveCached はスロットのキャッシュが新鮮なら応答して trueを返す。
func (h *MonologueHandler) serveCached(w http.ResponseWriter, state *UIState, slot string) bool {
	if !state.Cache.HasList(slot) || state.Cache.IsStale(slot) {
		return false
	}
	writeJSON(w, listResponse{Items: state.Cache.List(slot)})
	return true
}

// writeListError は一覧取得失敗を処理する。
// 失効済みキャッシュが手元にあればエラーの代わりに暫定表示する。
func (h *MonologueHandler) writeListError(w http.ResponseWriter, state *UIState, slot string, err error) {
	state.Cache.EndRefetch(slot)

	if state.Cache.HasList(slot) {
		h.logger.Warn("serving stale list after fetch failure",
			slog.String("slot", slot),
			slog.String("error", err.Error()),
		)
		writeJSON(w, listResponse{Items: state.Cache.List(slot), Stale: true})
		return
	}
	h.writeServiceError(w, err)
}

// writeServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func (h *MonologueHandler) writeServiceError(w http.ResponseWriter, err error) {
	writeServiceError(w, h.logger, err)
}

// --- ヘルパー関数 ---

// monologueID はパスパラメータからモノローグIDを取り出す。
func monologueID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// intParam はクエリパラメータを整数に変換する。不正値・未指定は0。
func intParam(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeJSON は200 OKでJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeServiceError はサービス層から返されたエラーを統一フォーマットで書き込む。
// ドメインエラーは対応するステータスに、バックエンドの非2xx応答は
// ステータスを引き継いで変換し、それ以外は詳細を伏せて500を返す。
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	var clientErr *apiclient.Error
	if errors.As(err, &clientErr) {
		status := clientErr.StatusCode()
		switch {
		case status == http.StatusUnauthorized:
			middleware.WriteErrorResponse(w, status, model.NewUnauthorizedError())
		case status == http.StatusForbidden:
			middleware.WriteErrorResponse(w, status, model.NewForbiddenError())
		case status >= 400 && status < 500:
			middleware.WriteErrorResponse(w, status, &model.APIError{
				Code:     "UPSTREAM_REJECTED",
				Message:  clientErr.Message,
				Category: "content",
				Action:   "入力内容を確認して再度お試しください。",
			})
		default:
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnreachableError())
		}
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
