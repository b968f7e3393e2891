package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/monologue"
	"github.com/hitoshi/serifu/internal/session"
)

// MetricsRecorder はハンドラー層が使うメトリクス記録の集約。
// metrics.Collectorが実装する。
type MetricsRecorder interface {
	LoginRecorder
	ToggleRecorder
	TourRecorder
}

// HealthChecker はヘルスチェックに必要なDB疎通確認。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション
	SessionManager *session.Manager
	UIStates       *UIStateRegistry

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthConfig AuthHandlerConfig

	// ドメイン
	Previewer *monologue.Previewer
	Blog      BlogPostSource
	Prefs     PrefsStore
	TourSeen  TourSeenStore

	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → (認証ルートはここまで)
//	→ Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）とブログはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// 全ルート共通のミドルウェア
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.SessionManager, deps.UIStates, deps.AuthConfig, deps.Metrics, logger)
	monoHandler := NewMonologueHandler(deps.SessionManager, deps.UIStates, deps.Previewer, deps.Metrics, logger)
	billingHandler := NewBillingHandler(deps.SessionManager, deps.UIStates, logger)
	tourHandler := NewTourHandler(deps.SessionManager, deps.UIStates, deps.TourSeen, deps.Metrics, logger)
	notifHandler := NewNotificationHandler(deps.SessionManager, deps.UIStates, logger)
	prefsHandler := NewPrefsHandler(deps.Prefs, logger)
	blogHandler := NewBlogHandler(deps.Blog, logger)
	adminHandler := NewAdminHandler(deps.SessionManager, logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
					Code:     "UNHEALTHY",
					Message:  "database unreachable",
					Category: "system",
				})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/signup", authHandler.Signup)
		r.Post("/logout", authHandler.Logout)
	})

	// CSRFトークン配布。セッション確立前のログインフォームからも呼ばれる
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// ランディングページのブログフィード
	r.Get("/api/blog/posts", blogHandler.List)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionManager, logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証状態
		r.Route("/api/auth", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Post("/refresh", authHandler.Refresh)
			r.Patch("/onboarding", authHandler.Onboarding)
		})

		// モノローグ
		r.Route("/api/monologues", func(r chi.Router) {
			r.Get("/search", monoHandler.Search)
			r.Get("/recommendations", monoHandler.Recommendations)
			r.Get("/discover", monoHandler.Discover)
			r.Get("/favorites/my", monoHandler.MyFavorites)

			// POST /api/monologues/submissions - 投稿（投稿専用レート制限を追加）
			r.Route("/submissions", func(r chi.Router) {
				r.With(deps.RateLimiter.SubmissionMiddleware()).Post("/", monoHandler.Submit)
				r.Post("/preview", monoHandler.PreviewSource)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", monoHandler.Detail)
				r.Post("/favorite", monoHandler.ToggleFavorite)
			})
		})

		// サブスクリプション
		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/me", billingHandler.Subscription)
			r.Get("/usage", billingHandler.Usage)
			r.Get("/billing-history", billingHandler.History)
			r.Post("/create-portal-session", billingHandler.CreatePortalSession)
		})

		// ガイドツアー
		r.Route("/api/tours", func(r chi.Router) {
			r.Post("/{name}/start", tourHandler.Start)
			r.Get("/current", tourHandler.View)
			r.Post("/current/next", tourHandler.Next)
			r.Post("/current/skip", tourHandler.Skip)
			r.Post("/current/resize", tourHandler.Resize)

			r.Route("/targets/{key}", func(r chi.Router) {
				r.Put("/", tourHandler.RegisterTarget)
				r.Delete("/", tourHandler.UnregisterTarget)
			})
		})

		// 通知
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notifHandler.List)
			r.Post("/{id}/undo", notifHandler.Undo)
		})

		// ローカル設定
		r.Route("/api/prefs", func(r chi.Router) {
			r.Get("/theme", prefsHandler.GetTheme)
			r.Put("/theme", prefsHandler.SetTheme)
			r.Get("/search-history", prefsHandler.SearchHistory)
		})

		// 管理API（管理者のみ）
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminOnlyMiddleware())
			r.HandleFunc("/*", adminHandler.Proxy)
		})
	})

	return r
}
