package favorites

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/querycache"
)

type mockAPI struct {
	postFn   func(ctx context.Context, path string) error
	deleteFn func(ctx context.Context, path string) error

	postCalls   atomic.Int64
	deleteCalls atomic.Int64
}

func (m *mockAPI) Post(ctx context.Context, path string, _, _ any, _ *apiclient.Options) (*apiclient.Response, error) {
	m.postCalls.Add(1)
	if m.postFn != nil {
		if err := m.postFn(ctx, path); err != nil {
			return nil, err
		}
	}
	return &apiclient.Response{Status: 200}, nil
}

func (m *mockAPI) Delete(ctx context.Context, path string, _ any, _ *apiclient.Options) (*apiclient.Response, error) {
	m.deleteCalls.Add(1)
	if m.deleteFn != nil {
		if err := m.deleteFn(ctx, path); err != nil {
			return nil, err
		}
	}
	return &apiclient.Response{Status: 200}, nil
}

type mockNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
	undos     []func()
}

func (m *mockNotifier) SuccessWithUndo(message, _ string, undo func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, message)
	m.undos = append(m.undos, undo)
}

func (m *mockNotifier) Error(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, message)
}

func seededCache() *querycache.Cache {
	c := querycache.New()
	c.SetList(querycache.SlotDiscover, []model.Monologue{
		{ID: 1, Title: "ハムレット", FavoriteCount: 3},
		{ID: 2, Title: "マクベス夫人", IsFavorited: true, FavoriteCount: 10},
	})
	c.SetList(querycache.SlotRecommendations, []model.Monologue{
		{ID: 2, Title: "マクベス夫人", IsFavorited: true, FavoriteCount: 10},
	})
	c.SetList(querycache.SlotBookmarks, []model.Monologue{
		{ID: 2, Title: "マクベス夫人", IsFavorited: true, FavoriteCount: 10},
	})
	c.SetDetail(&model.Monologue{ID: 1, Title: "ハムレット", FavoriteCount: 3})
	return c
}

func TestService_DuplicateToggleIsRejectedSilently(t *testing.T) {
	api := &mockAPI{}
	started := make(chan struct{})
	release := make(chan struct{})
	api.postFn = func(context.Context, string) error {
		close(started)
		<-release
		return nil
	}

	cache := seededCache()
	svc := NewService(api, cache, &mockNotifier{}, nil)

	done := make(chan error, 1)
	go func() { done <- svc.Toggle(context.Background(), 1, false) }()
	<-started

	// 進行中の重複トグルは番兵エラーで即座に戻る
	if err := svc.Toggle(context.Background(), 1, false); !errors.Is(err, ErrToggleInFlight) {
		t.Fatalf("err = %v, want ErrToggleInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("最初のToggleが失敗: %v", err)
	}
	if got := api.postCalls.Load(); got != 1 {
		t.Errorf("POST回数 = %d, want 1", got)
	}
}

func TestService_FavoritePatchesAllSlotsAndSynthesizesBookmarkRow(t *testing.T) {
	api := &mockAPI{}
	cache := seededCache()
	notifier := &mockNotifier{}
	svc := NewService(api, cache, notifier, nil)

	if err := svc.Toggle(context.Background(), 1, false); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	// 対象を含む全スロットでis_favoritedとfavorite_countが一致する
	for _, slot := range []string{querycache.SlotDiscover} {
		for _, m := range cache.List(slot) {
			if m.ID == 1 && (!m.IsFavorited || m.FavoriteCount != 4) {
				t.Errorf("slot %s: %+v", slot, m)
			}
		}
	}
	if d := cache.Detail(1); !d.IsFavorited || d.FavoriteCount != 4 {
		t.Errorf("詳細が不一致: %+v", d)
	}

	// ブックマーク一覧には他スロットから複製した行が合成される
	bookmarks := cache.List(querycache.SlotBookmarks)
	if len(bookmarks) != 2 || bookmarks[0].ID != 1 || !bookmarks[0].IsFavorited {
		t.Errorf("合成行が先頭にない: %+v", bookmarks)
	}

	// ブックマークと詳細のみ失効。推薦・発見系は並びを保つため失効させない
	if !cache.IsStale(querycache.SlotBookmarks) || !cache.IsDetailStale(1) {
		t.Error("ブックマークと詳細は失効すべき")
	}
	if cache.IsStale(querycache.SlotDiscover) || cache.IsStale(querycache.SlotRecommendations) {
		t.Error("推薦・発見系は失効させないべき")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.successes) != 1 {
		t.Errorf("成功通知 = %d件, want 1", len(notifier.successes))
	}
}

func TestService_UnfavoriteRemovesFromBookmarks(t *testing.T) {
	api := &mockAPI{}
	cache := seededCache()
	svc := NewService(api, cache, &mockNotifier{}, nil)

	if err := svc.Toggle(context.Background(), 2, true); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	for _, m := range cache.List(querycache.SlotBookmarks) {
		if m.ID == 2 {
			t.Error("解除した行はブックマーク一覧から取り除かれるべき")
		}
	}
	// 他のスロットでは行を残したまま状態だけ更新する
	for _, m := range cache.List(querycache.SlotRecommendations) {
		if m.ID == 2 && (m.IsFavorited || m.FavoriteCount != 9) {
			t.Errorf("推薦スロットの更新が不正: %+v", m)
		}
	}
	if got := api.deleteCalls.Load(); got != 1 {
		t.Errorf("DELETE回数 = %d, want 1", got)
	}
}

func TestService_FailureRollsBackAllSlots(t *testing.T) {
	api := &mockAPI{}
	api.postFn = func(context.Context, string) error {
		return errors.New("boom")
	}
	cache := seededCache()
	before := map[string][]model.Monologue{
		querycache.SlotDiscover:        cache.List(querycache.SlotDiscover),
		querycache.SlotRecommendations: cache.List(querycache.SlotRecommendations),
		querycache.SlotBookmarks:       cache.List(querycache.SlotBookmarks),
	}
	notifier := &mockNotifier{}
	svc := NewService(api, cache, notifier, nil)

	if err := svc.Toggle(context.Background(), 1, false); err == nil {
		t.Fatal("失敗がエラーとして返るべき")
	}

	for slot, want := range before {
		got := cache.List(slot)
		if len(got) != len(want) {
			t.Fatalf("slot %s の行数が変化: %d != %d", slot, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("slot %s[%d] が巻き戻っていない: %+v != %+v", slot, i, got[i], want[i])
			}
		}
	}
	if d := cache.Detail(1); d.IsFavorited || d.FavoriteCount != 3 {
		t.Errorf("詳細が巻き戻っていない: %+v", d)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.errors) != 1 {
		t.Errorf("エラー通知 = %d件, want 1", len(notifier.errors))
	}
}

func TestService_UndoReinvokesWithInvertedState(t *testing.T) {
	api := &mockAPI{}
	cache := seededCache()
	notifier := &mockNotifier{}
	svc := NewService(api, cache, notifier, nil)

	if err := svc.Toggle(context.Background(), 1, false); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	notifier.mu.Lock()
	undo := notifier.undos[0]
	notifier.mu.Unlock()
	undo()

	if got := api.deleteCalls.Load(); got != 1 {
		t.Errorf("取り消しのDELETE回数 = %d, want 1", got)
	}
	for _, m := range cache.List(querycache.SlotDiscover) {
		if m.ID == 1 && (m.IsFavorited || m.FavoriteCount != 3) {
			t.Errorf("取り消し後の状態が不正: %+v", m)
		}
	}
}

func TestService_CancelsInFlightRefetches(t *testing.T) {
	api := &mockAPI{}
	cache := seededCache()
	svc := NewService(api, cache, &mockNotifier{}, nil)

	refetchCtx := cache.BeginRefetch(context.Background(), querycache.SlotDiscover)

	if err := svc.Toggle(context.Background(), 1, false); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	select {
	case <-refetchCtx.Done():
	default:
		t.Error("楽観的パッチ後に進行中の再取得がキャンセルされるべき")
	}
}

// 任意のトグル列を適用してもfavorite_countが負にならないことを検証する。
func TestService_FavoriteCountNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("favorite_countは常に0以上", prop.ForAll(
		func(toggles []bool) bool {
			cache := querycache.New()
			// 表示状態とサーバー状態がずれた悲観的な初期値から始める
			cache.SetList(querycache.SlotDiscover, []model.Monologue{
				{ID: 1, IsFavorited: true, FavoriteCount: 0},
			})
			cache.SetList(querycache.SlotBookmarks, []model.Monologue{
				{ID: 1, IsFavorited: true, FavoriteCount: 0},
			})
			svc := NewService(&mockAPI{}, cache, &mockNotifier{}, nil)

			for _, current := range toggles {
				_ = svc.Toggle(context.Background(), 1, current)
				for _, slot := range []string{querycache.SlotDiscover, querycache.SlotBookmarks} {
					for _, m := range cache.List(slot) {
						if m.FavoriteCount < 0 {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
