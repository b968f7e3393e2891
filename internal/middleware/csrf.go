package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/serifu/internal/model"
)

const (
	// CSRFCookieName はCSRFトークンを保持するCookieの名前。
	// セッションCookie（session_id）がHTTP Onlyであるのに対し、
	// こちらはSPAがヘッダーに載せ直すためJavaScriptから読み取れる。
	CSRFCookieName = "serifu_csrf"

	// csrfHeaderName はSPAがトークンを送り返すヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// csrfCookieMaxAge はトークンCookieの寿命。ブラウザセッションより
	// 短くても、期限切れ時はSPAが /api/csrf-token で取り直す。
	csrfCookieMaxAge = 24 * 60 * 60
)

// CSRFConfig はCSRF保護の設定。CookieのSecure属性とDomainは
// セッションCookieと同じ値をアプリ設定から受け取る。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	Logger       *slog.Logger
}

func (c CSRFConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF保護を返す。
// セッションCookieがSameSite=Laxでも、台詞投稿やログアウトのような
// 状態変更POSTはトップレベル遷移から発火し得るため、Cookieとヘッダーの
// トークン一致を必須とする。GET/HEAD/OPTIONSは検証せず、未配布なら
// トークンCookieを配る。失敗は統一フォーマットの403で返す。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				ensureCSRFCookie(w, r, config)
				next.ServeHTTP(w, r)
				return
			}

			cookieToken, err := r.Cookie(CSRFCookieName)
			if err != nil || cookieToken.Value == "" {
				rejectCSRF(w, r, config, "missing cookie token")
				return
			}

			headerToken := r.Header.Get(csrfHeaderName)
			if headerToken == "" {
				rejectCSRF(w, r, config, "missing header token")
				return
			}

			if cookieToken.Value != headerToken {
				rejectCSRF(w, r, config, "token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
// ログインフォームは状態変更POSTを打つ前にここでトークンを取得する。
// 既存のトークンCookieがあればそれを返し、なければ発行して配る。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string

		cookie, err := r.Cookie(CSRFCookieName)
		if err == nil && cookie.Value != "" {
			token = cookie.Value
		} else {
			token, err = generateCSRFToken()
			if err != nil {
				config.logger().Error("failed to generate CSRF token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			setCSRFCookie(w, config, token)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}

// rejectCSRF は検証失敗をログに残し、統一フォーマットの403を返す。
func rejectCSRF(w http.ResponseWriter, r *http.Request, config CSRFConfig, reason string) {
	config.logger().Warn("CSRF validation failed: "+reason,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFFailedError())
}

// isSafeMethod はHTTPメソッドが読み取り専用かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はトークンCookieが未配布の場合に発行する。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) {
	if _, err := r.Cookie(CSRFCookieName); err == nil {
		return
	}

	token, err := generateCSRFToken()
	if err != nil {
		config.logger().Error("failed to generate CSRF token",
			slog.String("error", err.Error()),
		)
		return
	}
	setCSRFCookie(w, config, token)
}

// setCSRFCookie はトークンCookieを書き込む。SPAが読むためHTTP Onlyにしない。
func setCSRFCookie(w http.ResponseWriter, config CSRFConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateCSRFToken は暗号論的乱数からトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
