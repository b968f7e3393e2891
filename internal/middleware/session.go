// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/session"
)

// SessionCookieName はブラウザセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
var sessionIDContextKey = contextKey("session_id")

// storeContextKey はリクエストコンテキストに認証ストアを格納するためのキー。
var storeContextKey = contextKey("session_store")

// StoreResolver はセッションIDから認証ストアを引くインターフェース。
// session.Managerの部分集合として定義する。
type StoreResolver interface {
	Resolve(ctx context.Context, sessionID string) (*session.Store, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 対応する認証ストアを復元するミドルウェアを返す。
// セッションIDとストアをリクエストコンテキストに注入する。
// 未認証リクエストには統一フォーマットの401を返す。
func NewSessionMiddleware(resolver StoreResolver, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. ストアを復元（メモリに無ければリフレッシュトークンから）
			store, err := resolver.Resolve(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrSessionNotFound) {
					logger.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
				}
				// 復元不能なCookieは失効させる
				clearSessionCookie(w)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. セッションIDとストアをコンテキストに注入
			ctx := ContextWithSession(r.Context(), cookie.Value, store)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminOnlyMiddleware は管理者権限を要求するミドルウェアを返す。
// セッションミドルウェアの後に配置する。権限が無い場合は403を返し、
// ページ単位のエラーバナー表示をクライアントに委ねる。
func NewAdminOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, err := StoreFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			user := store.User()
			if user == nil || !user.IsAdmin {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clearSessionCookie は失効したセッションCookieを破棄する。
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// StoreFromContext はリクエストコンテキストから認証ストアを取得する。
func StoreFromContext(ctx context.Context) (*session.Store, error) {
	store, ok := ctx.Value(storeContextKey).(*session.Store)
	if !ok || store == nil {
		return nil, fmt.Errorf("session store not found in context")
	}
	return store, nil
}

// ContextWithSession はコンテキストにセッションIDと認証ストアを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sessionID string, store *session.Store) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, storeContextKey, store)
}
