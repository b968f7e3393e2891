package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/notify"
)

// NotificationHandler はトースト通知の取得と取り消し操作のHTTPハンドラー。
type NotificationHandler struct {
	clients  APIClientSource
	uiStates *UIStateRegistry
	logger   *slog.Logger
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(clients APIClientSource, uiStates *UIStateRegistry, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{
		clients:  clients,
		uiStates: uiStates,
		logger:   logger,
	}
}

// notificationsResponse は未配信通知の一覧。
type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

// undoResponse は取り消し操作の結果。
type undoResponse struct {
	Undone bool `json:"undone"`
}

func (h *NotificationHandler) state(r *http.Request) (*UIState, error) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		return nil, err
	}
	api := h.clients.APIClient(sessionID)
	if api == nil {
		return nil, errors.New("no API client for session")
	}
	return h.uiStates.Get(sessionID, api), nil
}

// List は未配信の通知をすべて取り出して返す。取り出した通知は
// センターから消える。ポーリングでの取得を想定している。
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	notifications := state.Notifier.Drain()
	if notifications == nil {
		notifications = []notify.Notification{}
	}
	writeJSON(w, notificationsResponse{Notifications: notifications})
}

// Undo は通知に紐づく取り消し操作を実行する。
// POST /api/notifications/{id}/undo
// 取り消し期限切れや不明なIDはundone=falseで応答する。
func (h *NotificationHandler) Undo(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id := chi.URLParam(r, "id")
	writeJSON(w, undoResponse{Undone: state.Notifier.Undo(id)})
}
