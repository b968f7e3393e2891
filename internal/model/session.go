package model

import "time"

// BrowserSession はブラウザごとのログインセッションを表す。
// Cookieで識別され、IDプロバイダーのリフレッシュトークンを保持する。
// アクセストークンは短命のためメモリ上のプロバイダーセッションのみが持つ。
type BrowserSession struct {
	ID           string
	Email        string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
