package session

import (
	"context"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/model"
)

// APIProfile はapiclient経由でバックエンドのプロフィールを取得するProfileAPI実装。
// ダッシュボードが無限ローディングに陥らないよう明示的なタイムアウトを適用する。
type APIProfile struct {
	api     *apiclient.Client
	timeout time.Duration
}

// NewAPIProfile はAPIProfileを生成する。
func NewAPIProfile(api *apiclient.Client, timeout time.Duration) *APIProfile {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &APIProfile{api: api, timeout: timeout}
}

// Me は /api/auth/me から現在のユーザープロフィールを取得する。
func (p *APIProfile) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if _, err := p.api.Get(ctx, "/api/auth/me", &user, &apiclient.Options{Timeout: p.timeout}); err != nil {
		return nil, err
	}
	return &user, nil
}
