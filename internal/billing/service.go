// Package billing はサブスクリプション表示と決済ポータル遷移のドメインロジックを提供する。
// 課金の実体はバックエンドと決済プロバイダーが持ち、ここでは表示用データの
// 取得とポータルURLの検証のみを行う。
package billing

import (
	"context"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/security"
)

// fetchTimeout は課金情報取得の打ち切り時間。
const fetchTimeout = 8 * time.Second

// API は課金情報の取得に必要なHTTP操作。apiclient.Clientが実装する。
type API interface {
	Get(ctx context.Context, path string, out any, opts *apiclient.Options) (*apiclient.Response, error)
	Post(ctx context.Context, path string, body, out any, opts *apiclient.Options) (*apiclient.Response, error)
}

// Service は課金表示のサービス層。
type Service struct {
	api API
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api API) *Service {
	return &Service{api: api}
}

// Subscription は現在のサブスクリプション状態を返す。
func (s *Service) Subscription(ctx context.Context) (*model.Subscription, error) {
	var sub model.Subscription
	if _, err := s.api.Get(ctx, "/api/subscriptions/me", &sub, &apiclient.Options{Timeout: fetchTimeout}); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Usage は現在の課金期間の利用量を返す。
func (s *Service) Usage(ctx context.Context) (*model.Usage, error) {
	var usage model.Usage
	if _, err := s.api.Get(ctx, "/api/subscriptions/usage", &usage, &apiclient.Options{Timeout: fetchTimeout}); err != nil {
		return nil, err
	}
	return &usage, nil
}

// History は課金履歴を返す。
func (s *Service) History(ctx context.Context) ([]model.BillingEntry, error) {
	var entries []model.BillingEntry
	if _, err := s.api.Get(ctx, "/api/subscriptions/billing-history", &entries, &apiclient.Options{Timeout: fetchTimeout}); err != nil {
		return nil, err
	}
	return entries, nil
}

// portalSessionResponse はポータルセッション生成の応答。
type portalSessionResponse struct {
	URL string `json:"url"`
}

// PortalURL は決済ポータルのセッションを生成し、リダイレクト先URLを返す。
// バックエンドの応答をそのまま信用せず、既知の決済ホストへのhttps URLで
// あることを検証してから返す。
func (s *Service) PortalURL(ctx context.Context) (string, error) {
	var resp portalSessionResponse
	if _, err := s.api.Post(ctx, "/api/subscriptions/create-portal-session", nil, &resp, &apiclient.Options{Timeout: fetchTimeout}); err != nil {
		return "", err
	}

	if err := security.ValidatePortalURL(resp.URL); err != nil {
		return "", model.NewPortalURLBlockedError()
	}
	return resp.URL, nil
}
