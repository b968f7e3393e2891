// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/serifu/internal/model"
)

// BrowserSessionRepository はブラウザセッションの永続化インターフェース。
// セッションはCookieのIDで識別され、プロバイダーのリフレッシュトークンを保持する。
// プロセス再起動後もログイン状態を復元できるようにするための唯一の永続データ。
type BrowserSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.BrowserSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BrowserSession, error)
	// UpdateRefreshToken はトークンリフレッシュ後の新しいリフレッシュトークンを保存する。
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
