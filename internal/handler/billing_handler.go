package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
)

// BillingHandler はサブスクリプション表示と決済ポータル遷移のHTTPハンドラー。
type BillingHandler struct {
	clients  APIClientSource
	uiStates *UIStateRegistry
	logger   *slog.Logger
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(clients APIClientSource, uiStates *UIStateRegistry, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		clients:  clients,
		uiStates: uiStates,
		logger:   logger,
	}
}

// portalResponse は決済ポータル遷移のレスポンス。
type portalResponse struct {
	URL string `json:"url"`
}

func (h *BillingHandler) state(r *http.Request) (*UIState, error) {
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

// Subscription は現在のサブスクリプション状態を返す。
// GET /api/subscriptions/me
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sub, err := state.Billing.Subscription(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, sub)
}

// Usage は現在の課金期間の利用量を返す。
// GET /api/subscriptions/usage
func (h *BillingHandler) Usage(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	usage, err := state.Billing.Usage(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, usage)
}

// History は課金履歴を返す。
// GET /api/subscriptions/billing-history
func (h *BillingHandler) History(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	entries, err := state.Billing.History(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.BillingEntry{}
	}
	writeJSON(w, entries)
}

// CreatePortalSession は決済ポータルのセッションを生成してURLを返す。
// POST /api/subscriptions/create-portal-session
// 検証を通らないURLはPORTAL_URL_BLOCKEDとして502で拒否される。
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	url, err := state.Billing.PortalURL(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, portalResponse{URL: url})
}
