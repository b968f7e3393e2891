// Package model はドメインモデルを定義する。
package model

// User はバックエンドの /api/auth/me から取得するユーザープロフィールのビューモデル。
// 認証ストアにキャッシュされ、セッション変化イベントやRefreshUser()で再取得される。
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	MarketingOptIn bool   `json:"marketing_opt_in"`

	// モデレーション・権限フラグ
	IsAdmin    bool `json:"is_admin"`
	IsApproved bool `json:"is_approved"`

	// オンボーディングツアーの閲覧済みフラグ
	HasSeenSearchTour  bool `json:"has_seen_search_tour"`
	HasSeenProfileTour bool `json:"has_seen_profile_tour"`

	// Degraded はバックエンド未到達時にセッションのクレームのみから
	// 合成されたユーザーであることを示す。ID は0番兵となる。
	Degraded bool `json:"-"`
}

// IsDegraded はセッションクレームのみから合成された縮退ユーザーかを返す。
// 縮退ユーザーのIDは常に0。
func (u *User) IsDegraded() bool {
	return u.Degraded || u.ID == 0
}
