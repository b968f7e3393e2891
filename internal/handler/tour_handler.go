package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/tour"
)

// TourSeenStore はツアー閲覧フラグのローカル記録。localstore.Storeが実装する。
type TourSeenStore interface {
	MarkTourSeen(ctx context.Context, sessionID, tourName string) error
	TourSeen(ctx context.Context, sessionID, tourName string) (bool, error)
}

// TourRecorder はツアー完了のメトリクス記録。
type TourRecorder interface {
	RecordTourCompletion(tourName string)
}

// TourHandler はガイドツアーのHTTPハンドラー。
// エンジンはセッションごとに高々1つで、終了時に破棄される。
type TourHandler struct {
	clients  APIClientSource
	uiStates *UIStateRegistry
	seen     TourSeenStore
	metrics  TourRecorder
	logger   *slog.Logger
}

// NewTourHandler はTourHandlerを生成する。
func NewTourHandler(clients APIClientSource, uiStates *UIStateRegistry, seen TourSeenStore, m TourRecorder, logger *slog.Logger) *TourHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TourHandler{
		clients:  clients,
		uiStates: uiStates,
		seen:     seen,
		metrics:  m,
		logger:   logger,
	}
}

// startRequest はツアー開始のリクエストボディ。
type startRequest struct {
	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`
	// Force は閲覧済みでも再実行する指定。ヘルプメニューからの再開用。
	Force bool `json:"force"`
}

// startResponse はツアー開始のレスポンス。
type startResponse struct {
	Started bool       `json:"started"`
	View    *tour.View `json:"view,omitempty"`
}

// targetRequest はターゲット矩形の登録リクエスト。
type targetRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// resizeRequest はビューポート変更のリクエスト。
type resizeRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (h *TourHandler) state(r *http.Request) (*UIState, string, error) {
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

// Start は指定ツアーを開始する。
// POST /api/tours/{name}/start
// 閲覧済みのツアーはforce指定がない限り開始しない。
func (h *TourHandler) Start(w http.ResponseWriter, r *http.Request) {
	state, sessionID, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	name := chi.URLParam(r, "name")
	steps, ok := tour.StepsFor(name)
	if !ok {
		middleware.WriteAPIError(w, model.NewUnknownTourError(name))
		return
	}

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeInvalidRequest(w)
			return
		}
	}

	if !req.Force {
		seen, err := h.seen.TourSeen(r.Context(), sessionID, name)
		if err != nil {
			h.logger.Warn("tour seen lookup failed",
				slog.String("tour", name),
				slog.String("error", err.Error()),
			)
		}
		if seen {
			writeJSON(w, startResponse{Started: false})
			return
		}
	}

	api := h.clients.APIClient(sessionID)
	engine := tour.NewEngine(tour.EngineConfig{
		Name:     name,
		Steps:    steps,
		Registry: state.Targets,
		API:      api,
		OnDismiss: func() {
			state.SetEngine(nil)
			if err := h.seen.MarkTourSeen(context.Background(), sessionID, name); err != nil {
				h.logger.Warn("mark tour seen failed",
					slog.String("tour", name),
					slog.String("error", err.Error()),
				)
			}
			if h.metrics != nil {
				h.metrics.RecordTourCompletion(name)
			}
		},
		Viewport: tour.Size{Width: req.ViewportWidth, Height: req.ViewportHeight},
		Logger:   h.logger,
	})
	state.SetEngine(engine)
	engine.Start()

	view := engine.View()
	writeJSON(w, startResponse{Started: true, View: &view})
}

// View は実行中ツアーの現在表示を返す。
// GET /api/tours/current
func (h *TourHandler) View(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	engine := state.Engine()
	if engine == nil {
		writeJSON(w, tour.View{Mode: tour.ModeFinished})
		return
	}
	writeJSON(w, engine.View())
}

// Next は次のステップへ進む。最終ステップからは完了する。
// POST /api/tours/current/next
func (h *TourHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(e *tour.Engine) { e.Next() })
}

// Skip はツアーを途中で終了する。完了と同じ扱いになる。
// POST /api/tours/current/skip
func (h *TourHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(e *tour.Engine) { e.Skip() })
}

// Resize はビューポート変更を反映してツールチップ位置を再計算する。
// POST /api/tours/current/resize
func (h *TourHandler) Resize(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	engine := state.Engine()
	if engine == nil {
		writeJSON(w, tour.View{Mode: tour.ModeFinished})
		return
	}
	engine.Resize(tour.Size{Width: req.Width, Height: req.Height})
	writeJSON(w, engine.View())
}

// RegisterTarget はスポットライト対象の矩形を登録する。
// PUT /api/tours/targets/{key}
func (h *TourHandler) RegisterTarget(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	key := chi.URLParam(r, "key")
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	state.Targets.Register(key, tour.Rect{
		X:      req.X,
		Y:      req.Y,
		Width:  req.Width,
		Height: req.Height,
	})
	w.WriteHeader(http.StatusNoContent)
}

// UnregisterTarget はターゲット矩形の登録を解除する。
// DELETE /api/tours/targets/{key}
func (h *TourHandler) UnregisterTarget(w http.ResponseWriter, r *http.Request) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	state.Targets.Unregister(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *TourHandler) advance(w http.ResponseWriter, r *http.Request, op func(*tour.Engine)) {
	state, _, err := h.state(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	engine := state.Engine()
	if engine == nil {
		writeJSON(w, tour.View{Mode: tour.ModeFinished})
		return
	}
	op(engine)
	// 完了していればOnDismissでengineは既にnilになっている
	if current := state.Engine(); current != nil {
		writeJSON(w, current.View())
		return
	}
	writeJSON(w, tour.View{Mode: tour.ModeFinished})
}
