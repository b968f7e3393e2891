// Package handler はSerifu WebクライアントのHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/billing"
	"github.com/hitoshi/serifu/internal/favorites"
	"github.com/hitoshi/serifu/internal/localstore"
	"github.com/hitoshi/serifu/internal/monologue"
	"github.com/hitoshi/serifu/internal/notify"
	"github.com/hitoshi/serifu/internal/querycache"
	"github.com/hitoshi/serifu/internal/tour"
)

// UIState はブラウザセッション1つ分のUI状態。
// クエリキャッシュ・通知・実行中ツアーなど、ページをまたいで
// 生き続けるがセッションを越えては共有されない状態を束ねる。
type UIState struct {
	Cache      *querycache.Cache
	Notifier   *notify.Center
	Favorites  *favorites.Service
	Monologues *monologue.Service
	Submitter  *monologue.Submitter
	Billing    *billing.Service
	Targets    *tour.Registry

	mu     sync.Mutex
	engine *tour.Engine
}

// Engine は実行中のツアーエンジンを返す。未開始ならnil。
func (u *UIState) Engine() *tour.Engine {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.engine
}

// SetEngine は実行中のツアーエンジンを差し替える。
func (u *UIState) SetEngine(e *tour.Engine) {
	u.mu.Lock()
	u.engine = e
	u.mu.Unlock()
}

// UIStateConfig はUIStateRegistryの設定。
type UIStateConfig struct {
	Local     *localstore.Store
	Sanitizer monologue.Sanitizer
	Validator monologue.URLValidator
	Logger    *slog.Logger
}

// UIStateRegistry はセッションIDごとのUIStateを管理する。
type UIStateRegistry struct {
	cfg    UIStateConfig
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*UIState
}

// NewUIStateRegistry はUIStateRegistryを生成する。
func NewUIStateRegistry(cfg UIStateConfig) *UIStateRegistry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &UIStateRegistry{
		cfg:    cfg,
		logger: cfg.Logger,
		states: make(map[string]*UIState),
	}
}

// Get はセッションのUIStateを取得する。初回アクセス時に生成する。
// apiはそのセッションに紐付くAPIクライアント。
func (r *UIStateRegistry) Get(sessionID string, api *apiclient.Client) *UIState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[sessionID]; ok {
		return s
	}

	cache := querycache.New()
	notifier := notify.NewCenter()
	s := &UIState{
		Cache:      cache,
		Notifier:   notifier,
		Favorites:  favorites.NewService(api, cache, notifier, r.logger),
		Monologues: monologue.NewService(api, r.cfg.Local, r.logger),
		Submitter:  monologue.NewSubmitter(api, r.cfg.Sanitizer, r.cfg.Validator),
		Billing:    billing.NewService(api),
		Targets:    tour.NewRegistry(),
	}
	r.states[sessionID] = s
	return s
}

// Evict はセッションのUIStateを破棄する。ログアウトや強制失効時に呼ぶ。
func (r *UIStateRegistry) Evict(sessionID string) {
	r.mu.Lock()
	s, ok := r.states[sessionID]
	delete(r.states, sessionID)
	r.mu.Unlock()

	if ok {
		s.Cache.CancelRefetches()
	}
}

// Count は現在保持しているUIStateの数を返す。メトリクス用。
func (r *UIStateRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
