// Package monologue はモノローグの検索・発見・投稿のドメインロジックを提供する。
// コンテンツの正本はリモートAPIが持ち、このサービスは検索履歴の記録、
// 投稿の事前検証、タイムアウトの適用を担うプロキシ層として働く。
package monologue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/model"
)

const (
	// dashboardTimeout はダッシュボード系の取得の打ち切り時間。
	// バックエンドが停止していても読み込み表示が出続けないようにする。
	dashboardTimeout = 10 * time.Second

	// defaultLimit は一覧取得の既定件数。
	defaultLimit = 20
)

// API はリモートAPIへのHTTP操作。apiclient.Clientが実装する。
type API interface {
	Get(ctx context.Context, path string, out any, opts *apiclient.Options) (*apiclient.Response, error)
	Post(ctx context.Context, path string, body, out any, opts *apiclient.Options) (*apiclient.Response, error)
}

// HistoryRecorder は検索履歴の記録先。localstore.Storeが実装する。
type HistoryRecorder interface {
	AddSearchHistory(ctx context.Context, sessionID, query string) error
}

// SearchFilters は検索の絞り込み条件。
type SearchFilters struct {
	Genre        string
	Tone         string
	MinWordCount int
	MaxWordCount int
	Limit        int
}

// Service はモノローグのドメインサービス。
type Service struct {
	api     API
	history HistoryRecorder
	logger  *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api API, history HistoryRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, history: history, logger: logger}
}

// Search はモノローグを検索し、検索語を履歴に記録する。
// 初回リクエストはバックエンドのコールドスタートで遅くなりうるため、
// 短いタイムアウトは設定しない。打ち切り時のメッセージは
// HTTPクライアント側が検索専用のものに翻訳する。
func (s *Service) Search(ctx context.Context, sessionID, query string, filters SearchFilters) ([]model.Monologue, error) {
	params := url.Values{}
	params.Set("q", query)
	if filters.Genre != "" {
		params.Set("genre", filters.Genre)
	}
	if filters.Tone != "" {
		params.Set("tone", filters.Tone)
	}
	if filters.MinWordCount > 0 {
		params.Set("min_word_count", strconv.Itoa(filters.MinWordCount))
	}
	if filters.MaxWordCount > 0 {
		params.Set("max_word_count", strconv.Itoa(filters.MaxWordCount))
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	var results []model.Monologue
	if _, err := s.api.Get(ctx, "/api/monologues/search?"+params.Encode(), &results, nil); err != nil {
		return nil, err
	}

	if s.history != nil && sessionID != "" {
		// 履歴の記録失敗で検索結果を落とさない
		if err := s.history.AddSearchHistory(ctx, sessionID, query); err != nil {
			s.logger.Warn("検索履歴の記録に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return results, nil
}

// Recommendations はユーザー向けの推薦一覧を返す。
// fastは計算済みの軽量版を要求するフラグ。
func (s *Service) Recommendations(ctx context.Context, limit int, fast bool) ([]model.Monologue, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	path := fmt.Sprintf("/api/monologues/recommendations?limit=%d&fast=%t", limit, fast)

	var results []model.Monologue
	if _, err := s.api.Get(ctx, path, &results, &apiclient.Options{Timeout: dashboardTimeout}); err != nil {
		return nil, err
	}
	return results, nil
}

// Discover は発見フィードを返す。
func (s *Service) Discover(ctx context.Context, limit int) ([]model.Monologue, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	path := fmt.Sprintf("/api/monologues/discover?limit=%d", limit)

	var results []model.Monologue
	if _, err := s.api.Get(ctx, path, &results, &apiclient.Options{Timeout: dashboardTimeout}); err != nil {
		return nil, err
	}
	return results, nil
}

// MyFavorites はお気に入り一覧を返す。
func (s *Service) MyFavorites(ctx context.Context) ([]model.Monologue, error) {
	var results []model.Monologue
	if _, err := s.api.Get(ctx, "/api/monologues/favorites/my", &results, &apiclient.Options{Timeout: dashboardTimeout}); err != nil {
		return nil, err
	}
	return results, nil
}

// Detail はモノローグの詳細を返す。
func (s *Service) Detail(ctx context.Context, id int64) (*model.Monologue, error) {
	var result model.Monologue
	_, err := s.api.Get(ctx, fmt.Sprintf("/api/monologues/%d", id), &result, &apiclient.Options{Timeout: dashboardTimeout})
	if err != nil {
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode() == 404 {
			return nil, model.NewMonologueNotFoundError(id)
		}
		return nil, err
	}
	return &result, nil
}
