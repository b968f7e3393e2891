package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/blog"
	"github.com/hitoshi/serifu/internal/config"
	"github.com/hitoshi/serifu/internal/database"
	"github.com/hitoshi/serifu/internal/handler"
	"github.com/hitoshi/serifu/internal/localstore"
	"github.com/hitoshi/serifu/internal/logger"
	"github.com/hitoshi/serifu/internal/metrics"
	"github.com/hitoshi/serifu/internal/middleware"
	"github.com/hitoshi/serifu/internal/monologue"
	"github.com/hitoshi/serifu/internal/repository"
	"github.com/hitoshi/serifu/internal/security"
	"github.com/hitoshi/serifu/internal/session"
	"github.com/hitoshi/serifu/internal/worker/cleanup"
)

// activeSessionsInterval はアクティブセッション数ゲージの更新間隔。
const activeSessionsInterval = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルでロガーを再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はBFFサーバーモードで起動する。
// DBとRedisへの接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（ブラウザセッション永続化用）
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. ローカルストア接続（検索履歴・テーマ・ツアーフラグ用）
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	local := localstore.NewStore(redis.NewClient(redisOpts))
	defer local.Close()

	// 3. リポジトリとセキュリティサービスの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. メトリクスの初期化
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// 5. セッションごとのUI状態レジストリの初期化
	uiStates := handler.NewUIStateRegistry(handler.UIStateConfig{
		Local:     local,
		Sanitizer: sanitizer,
		Validator: ssrfGuard,
		Logger:    slog.Default(),
	})

	// 6. セッションマネージャーの初期化
	provider := authprovider.NewClient(cfg.AuthBaseURL, cfg.AuthClientKey, nil)
	manager := session.NewManager(session.ManagerConfig{
		Provider: provider,
		Sessions: sessionRepo,
		NewPrefs: func(sessionID string) session.Prefs {
			return local.PrefsFor(sessionID)
		},
		APIBaseURL:     cfg.APIBaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.DashboardTimeout},
		Logger:         slog.Default(),
		Recorder:       collector,
		SessionMaxAge:  time.Duration(cfg.SessionMaxAge) * time.Second,
		SyncThrottle:   cfg.SyncThrottle,
		ProfileTimeout: cfg.ProfileTimeout,
		RefreshSkew:    cfg.TokenRefreshSkew,
		// 401で強制失効したセッションのUI状態も同時に破棄する
		OnEvict: uiStates.Evict,
	})

	// 7. ルーターの構築
	// configのレート制限値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SubmitRate = rate.Limit(float64(cfg.RateLimitSubmit) / 60.0)
	rateLimiterCfg.SubmitBurst = cfg.RateLimitSubmit

	deps := &handler.RouterDeps{
		SessionManager: manager,
		UIStates:       uiStates,

		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(promReg),

		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
		},

		Previewer: monologue.NewPreviewer(ssrfGuard),
		Blog:      blog.NewService(cfg.BlogFeedURL, ssrfGuard, sanitizer, slog.Default()),
		Prefs:     local,
		TourSeen:  local,

		Metrics: collector,
		Logger:  slog.Default(),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// アクティブセッション数ゲージの定期更新
	gaugeCtx, gaugeCancel := context.WithCancel(context.Background())
	defer gaugeCancel()
	go func() {
		ticker := time.NewTicker(activeSessionsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				collector.RecordActiveSessions(uiStates.Count())
			}
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("web client server starting",
			slog.String("addr", server.Addr),
			slog.String("api_base_url", cfg.APIBaseURL),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れブラウザセッションの日次クリーンアップジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting")

	// 起動直後に1回実行し、以降は日次で実行する
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
