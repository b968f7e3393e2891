// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// defaultAPIBaseURLProduction は本番デプロイ時のSerifu APIのオリジン。
	defaultAPIBaseURLProduction = "https://api.serifu.app"
	// defaultAPIBaseURLLocal はローカル開発時のSerifu APIのオリジン。
	defaultAPIBaseURLLocal = "http://localhost:8000"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Serifu API
	APIBaseURL string

	// Auth provider（外部IDプロバイダー）
	AuthBaseURL      string
	AuthClientKey    string
	TokenRefreshSkew time.Duration

	// Database（ブラウザセッション保存用）
	DatabaseURL string

	// Local store（検索履歴・ツアーフラグ・テーマ等の短命KV）
	RedisURL string

	// Session
	SessionMaxAge int
	SyncThrottle  time.Duration

	// Timeouts
	DashboardTimeout time.Duration
	ProfileTimeout   time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitSubmit  int

	// Blog（ランディングページのブログフィード）
	BlogFeedURL string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（ローカル開発用、設定済みの変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envが存在しない環境（本番コンテナ）では単に無視する
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthBaseURL = os.Getenv("AUTH_BASE_URL")
	if cfg.AuthBaseURL == "" {
		missing = append(missing, "AUTH_BASE_URL")
	}

	cfg.AuthClientKey = os.Getenv("AUTH_CLIENT_KEY")
	if cfg.AuthClientKey == "" {
		missing = append(missing, "AUTH_CLIENT_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// API base URL: 明示指定がなければデプロイ環境に応じて解決する
	cfg.APIBaseURL = resolveAPIBaseURL(os.Getenv("SERIFU_API_URL"), os.Getenv("APP_ENV"))

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.SyncThrottle = getEnvDuration("SYNC_THROTTLE", 3*time.Second)
	cfg.TokenRefreshSkew = getEnvDuration("TOKEN_REFRESH_SKEW", 60*time.Second)
	cfg.DashboardTimeout = getEnvDuration("DASHBOARD_TIMEOUT", 10*time.Second)
	cfg.ProfileTimeout = getEnvDuration("PROFILE_TIMEOUT", 8*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSubmit = getEnvInt("RATE_LIMIT_SUBMIT", 10)
	cfg.BlogFeedURL = getEnvString("BLOG_FEED_URL", "https://blog.serifu.app/feed.xml")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// resolveAPIBaseURL はSerifu APIのオリジンを解決する。
// 明示指定が最優先。未指定の場合、本番（APP_ENV=production）では本番オリジン、
// それ以外ではローカルオリジンにフォールバックする。
func resolveAPIBaseURL(explicit, appEnv string) string {
	if explicit != "" {
		return strings.TrimSuffix(explicit, "/")
	}
	if appEnv == "production" {
		return defaultAPIBaseURLProduction
	}
	return defaultAPIBaseURLLocal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
