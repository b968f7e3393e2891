// Package favorites はお気に入りトグルの楽観的更新を実装する。
// キャッシュの複数スロットを先行更新し、サーバー確定前にUIへ反映する。
// 失敗時はスナップショットへ巻き戻す。
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/querycache"
)

// ErrToggleInFlight は同一IDのトグルが進行中のときの番兵エラー。
// 呼び出し側はこれを無視する（ユーザーへの通知もロールバックもしない）。
var ErrToggleInFlight = errors.New("favorites: toggle already in flight")

// API はトグルに必要なHTTPクライアント操作。apiclient.Clientが実装する。
type API interface {
	Post(ctx context.Context, path string, body, out any, opts *apiclient.Options) (*apiclient.Response, error)
	Delete(ctx context.Context, path string, out any, opts *apiclient.Options) (*apiclient.Response, error)
}

// Notifier は操作結果の通知先。notify.Centerが実装する。
type Notifier interface {
	SuccessWithUndo(message, undoLabel string, undo func())
	Error(message string)
}

// Service はブラウザセッション1つ分のお気に入りトグルを管理する。
type Service struct {
	api      API
	cache    *querycache.Cache
	notifier Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewService はServiceを生成する。
func NewService(api API, cache *querycache.Cache, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:      api,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		inFlight: make(map[int64]struct{}),
	}
}

// Toggle はお気に入り状態を反転させる。
// currentIsFavoritedは呼び出し時点でUIが表示している状態。
// 同一IDのトグルが進行中の場合はErrToggleInFlightを返し、
// ネットワーク要求もキャッシュ変更も行わない。
func (s *Service) Toggle(ctx context.Context, id int64, currentIsFavorited bool) error {
	s.mu.Lock()
	if _, ok := s.inFlight[id]; ok {
		s.mu.Unlock()
		return ErrToggleInFlight
	}
	s.inFlight[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}()

	favoriting := !currentIsFavorited

	// 楽観的フェーズ。ロールバック用スナップショットを先に採取する。
	snap := s.cache.Take()
	s.applyOptimistic(id, favoriting)

	// 楽観値を古いレスポンスで上書きされないよう、進行中の再取得を止める
	s.cache.CancelRefetches()

	path := fmt.Sprintf("/api/monologues/%d/favorite", id)
	var err error
	if favoriting {
		_, err = s.api.Post(ctx, path, nil, nil, nil)
	} else {
		_, err = s.api.Delete(ctx, path, nil, nil)
	}

	if err != nil {
		s.cache.Restore(snap)
		s.logger.Error("お気に入りトグルに失敗しました",
			slog.Int64("monologue_id", id),
			slog.Bool("favoriting", favoriting),
			slog.String("error", err.Error()),
		)
		s.notifier.Error("お気に入りの更新に失敗しました。もう一度お試しください")
		return err
	}

	s.settle(id, favoriting)
	return nil
}

// applyOptimistic はキャッシュの全スロットへ新しい状態を先行反映する。
func (s *Service) applyOptimistic(id int64, favoriting bool) {
	s.cache.Patch(id, func(m *model.Monologue) bool {
		m.IsFavorited = favoriting
		if favoriting {
			m.FavoriteCount = clampCount(m.FavoriteCount + 1)
		} else {
			m.FavoriteCount = clampCount(m.FavoriteCount - 1)
		}
		return true
	})

	if favoriting {
		// ブックマーク一覧は未取得の行を知らないため、
		// 他のスロットが持つパッチ適用済みの行を複製して合成する
		if m := s.cache.Find(id); m != nil {
			s.cache.Prepend(querycache.SlotBookmarks, *m)
		}
	} else {
		s.cache.Remove(querycache.SlotBookmarks, id)
	}
}

// settle は成功確定後の処理。取り消し可能な成功通知を出し、
// ブックマークと詳細のみ再検証対象にする。推薦・発見系のスロットは
// 再取得による並び替えの方が体験を損なうため意図的に失効させない。
func (s *Service) settle(id int64, favorited bool) {
	message := "お気に入りに追加しました"
	if !favorited {
		message = "お気に入りから削除しました"
	}
	s.notifier.SuccessWithUndo(message, "元に戻す", func() {
		// 取り消しは引数を反転させた再トグル
		if err := s.Toggle(context.Background(), id, favorited); err != nil && !errors.Is(err, ErrToggleInFlight) {
			s.logger.Warn("お気に入りの取り消しに失敗しました",
				slog.Int64("monologue_id", id),
				slog.String("error", err.Error()),
			)
		}
	})

	s.cache.MarkStale(querycache.SlotBookmarks)
	s.cache.MarkDetailStale(id)
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
