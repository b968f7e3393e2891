package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
)

// adminTimeout は管理APIの打ち切り時間。
const adminTimeout = 15 * time.Second

// AdminHandler は管理APIのパススルー中継。
// 管理画面の操作はバックエンドの管理APIをそのまま呼び出すだけで、
// BFF側にドメインロジックは持たない。権限確認はミドルウェアが行う。
type AdminHandler struct {
	clients APIClientSource
	logger  *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(clients APIClientSource, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{clients: clients, logger: logger}
}

// Proxy はリクエストをバックエンドの同一パスへ中継する。
// GET/POST/PATCH/DELETE /api/admin/*
func (h *AdminHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	api := h.clients.APIClient(sessionID)
	if api == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var body any
	if r.Body != nil && r.ContentLength != 0 {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeInvalidRequest(w)
			return
		}
		if len(raw) > 0 {
			if !json.Valid(raw) {
				writeInvalidRequest(w)
				return
			}
			body = json.RawMessage(raw)
		}
	}

	resp, err := api.Do(r.Context(), r.Method, path, body, nil, &apiclient.Options{Timeout: adminTimeout})
	if err != nil {
		var clientErr *apiclient.Error
		if errors.As(err, &clientErr) && clientErr.Response != nil {
			// バックエンドの応答をそのまま返す
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(clientErr.Response.Status)
			w.Write(clientErr.Response.Data)
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Data)
}
