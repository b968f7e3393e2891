package tour

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
)

// ツアー名。バックエンドの閲覧済みフラグに対応する。
const (
	TourSearch  = "search"
	TourProfile = "profile"
)

const (
	// lookupAttempts はターゲット解決の最大試行回数。
	lookupAttempts = 3
	// lookupDelay は試行間の待ち時間。
	lookupDelay = 50 * time.Millisecond
	// completeTimeout は完了フラグ送信の打ち切り時間。
	completeTimeout = 5 * time.Second
)

// defaultTooltipSize はツールチップの既定サイズ。
var defaultTooltipSize = Size{Width: 320, Height: 180}

// Step はツアーの1ステップ。
type Step struct {
	TargetID  string    `json:"target_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Placement Placement `json:"placement"`
}

// Mode はステップの表示モード。
type Mode string

const (
	// ModeLocated はターゲットが見つかりスポットライトを描くモード。
	ModeLocated Mode = "located"
	// ModeFallback はターゲット不在時の中央表示モード。
	ModeFallback Mode = "fallback"
	// ModeFinished はツアー終了。
	ModeFinished Mode = "finished"
)

// View はクライアントへ返すツアーの現在表示。
type View struct {
	StepIndex int    `json:"step_index"`
	StepTotal int    `json:"step_total"`
	Mode      Mode   `json:"mode"`
	Step      *Step  `json:"step,omitempty"`
	Spotlight *Rect  `json:"spotlight,omitempty"`
	Tooltip   *Point `json:"tooltip,omitempty"`
	IsLast    bool   `json:"is_last"`
}

// API は完了フラグの送信に必要なHTTPクライアント操作。
type API interface {
	Patch(ctx context.Context, path string, body, out any, opts *apiclient.Options) (*apiclient.Response, error)
}

// EngineConfig はEngineの設定。
type EngineConfig struct {
	Name      string
	Steps     []Step
	Registry  *Registry
	API       API
	OnDismiss func()
	Viewport  Size
	Logger    *slog.Logger

	// sleep はテストで差し替えるためのフック。
	sleep func(d time.Duration)
}

// Engine は1回のツアー実行の状態機械。
// どのステップで離脱したかは記憶しない。再開は常にステップ0から。
type Engine struct {
	name      string
	steps     []Step
	registry  *Registry
	api       API
	onDismiss func()
	logger    *slog.Logger
	sleep     func(d time.Duration)

	mu        sync.Mutex
	viewport  Size
	stepIndex int
	mode      Mode
	spotlight Rect
	started   bool
	finished  bool
}

// NewEngine はEngineを生成する。
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}
	if cfg.Viewport.Width == 0 {
		cfg.Viewport = Size{Width: 1280, Height: 800}
	}
	return &Engine{
		name:      cfg.Name,
		steps:     cfg.Steps,
		registry:  cfg.Registry,
		api:       cfg.API,
		onDismiss: cfg.OnDismiss,
		logger:    cfg.Logger,
		sleep:     cfg.sleep,
		viewport:  cfg.Viewport,
	}
}

// Start はツアーをステップ0から開始する。2回目以降の呼び出しは無視する。
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started || len(e.steps) == 0 {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stepIndex = 0
	e.mu.Unlock()

	e.enterStep(0)
}

// enterStep はターゲットを解決してステップの表示モードを決める。
// 見つからない場合は短い待ちを挟んで繰り返し、試行上限に達したら
// フォールバックモードに入る。エラーにはしない。
func (e *Engine) enterStep(index int) {
	step := e.steps[index]

	for attempt := 0; attempt < lookupAttempts; attempt++ {
		if attempt > 0 {
			e.sleep(lookupDelay)
		}
		if rect, ok := e.registry.Lookup(step.TargetID); ok {
			e.mu.Lock()
			e.mode = ModeLocated
			e.spotlight = rect
			e.mu.Unlock()
			return
		}
	}

	e.mu.Lock()
	e.mode = ModeFallback
	e.mu.Unlock()
}

// View は現在の表示を返す。
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished || !e.started {
		return View{Mode: ModeFinished, StepTotal: len(e.steps)}
	}

	step := e.steps[e.stepIndex]
	v := View{
		StepIndex: e.stepIndex,
		StepTotal: len(e.steps),
		Mode:      e.mode,
		Step:      &step,
		IsLast:    e.stepIndex == len(e.steps)-1,
	}
	switch e.mode {
	case ModeLocated:
		spotlight := e.spotlight
		tooltip := tooltipPosition(spotlight, e.viewport, defaultTooltipSize, step.Placement)
		v.Spotlight = &spotlight
		v.Tooltip = &tooltip
	case ModeFallback:
		tooltip := centeredPosition(e.viewport, defaultTooltipSize)
		v.Tooltip = &tooltip
	}
	return v
}

// Next は次のステップへ進む。最終ステップでは完了処理を行う。
func (e *Engine) Next() {
	e.mu.Lock()
	if e.finished || !e.started {
		e.mu.Unlock()
		return
	}
	if e.stepIndex >= len(e.steps)-1 {
		e.mu.Unlock()
		e.complete()
		return
	}
	e.stepIndex++
	next := e.stepIndex
	e.mu.Unlock()

	e.enterStep(next)
}

// Skip はどのステップからでも完了処理を行う。
func (e *Engine) Skip() {
	e.mu.Lock()
	if e.finished || !e.started {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.complete()
}

// Resize はビューポート変更時にターゲットの矩形を測り直す。
// ステップは変更しない。
func (e *Engine) Resize(viewport Size) {
	e.mu.Lock()
	e.viewport = viewport
	if e.finished || !e.started || e.mode != ModeLocated {
		e.mu.Unlock()
		return
	}
	step := e.steps[e.stepIndex]
	e.mu.Unlock()

	if rect, ok := e.registry.Lookup(step.TargetID); ok {
		e.mu.Lock()
		e.spotlight = rect
		e.mu.Unlock()
	}
}

// complete は閲覧済みフラグを送信して終了状態へ移る。
// 送信は投げ放しで、失敗してもツアーの終了は妨げない。
func (e *Engine) complete() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
		defer cancel()

		body := map[string]bool{}
		switch e.name {
		case TourSearch:
			body["has_seen_search_tour"] = true
		case TourProfile:
			body["has_seen_profile_tour"] = true
		}
		if _, err := e.api.Patch(ctx, "/api/auth/onboarding", body, nil, nil); err != nil {
			e.logger.Warn("ツアー完了フラグの送信に失敗しました",
				slog.String("tour", e.name),
				slog.String("error", err.Error()),
			)
		}
	}()

	if e.onDismiss != nil {
		e.onDismiss()
	}
}
