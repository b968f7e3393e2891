package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/model"
)

// mockSessionRepo は関数フィールドで差し替え可能なBrowserSessionRepositoryモック。
type mockSessionRepo struct {
	createFn   func(ctx context.Context, s *model.BrowserSession) error
	findByIDFn func(ctx context.Context, id string) (*model.BrowserSession, error)

	updateCalls atomic.Int64
	deleteCalls atomic.Int64

	mu        sync.Mutex
	deletedID string
	updatedRT string
}

func (r *mockSessionRepo) Create(ctx context.Context, s *model.BrowserSession) error {
	if r.createFn != nil {
		return r.createFn(ctx, s)
	}
	return nil
}

func (r *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.BrowserSession, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *mockSessionRepo) UpdateRefreshToken(_ context.Context, _, refreshToken string) error {
	r.updateCalls.Add(1)
	r.mu.Lock()
	r.updatedRT = refreshToken
	r.mu.Unlock()
	return nil
}

func (r *mockSessionRepo) DeleteByID(_ context.Context, id string) error {
	r.deleteCalls.Add(1)
	r.mu.Lock()
	r.deletedID = id
	r.mu.Unlock()
	return nil
}

func (r *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// newProviderStub はSignIn/Refresh/SignOutに応答するIDプロバイダーのスタブを返す。
// refreshesが非nilならリフレッシュトークングラントの呼び出し回数を数える。
func newProviderStub(refreshes *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token" && r.URL.Query().Get("grant_type") == "password":
		case r.URL.Path == "/token" && r.URL.Query().Get("grant_type") == "refresh_token":
			if refreshes != nil {
				refreshes.Add(1)
			}
		case r.URL.Path == "/logout":
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt-rotated",
			"expires_in":    3600,
		})
	}))
}

// newBackendStub は /api/auth/me に固定プロフィールを返すバックエンドスタブを返す。
func newBackendStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.User{ID: 7, Email: "actor@example.com", IsApproved: true})
	}))
}

func newTestManager(t *testing.T, repo *mockSessionRepo, refreshes *atomic.Int64, onEvict func(string)) *Manager {
	t.Helper()
	provider := newProviderStub(refreshes)
	backend := newBackendStub()
	t.Cleanup(provider.Close)
	t.Cleanup(backend.Close)

	return NewManager(ManagerConfig{
		Provider:      authprovider.NewClient(provider.URL, "test-key", nil),
		Sessions:      repo,
		NewPrefs:      func(string) Prefs { return &mockPrefs{} },
		APIBaseURL:    backend.URL,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		SessionMaxAge: time.Hour,
		RefreshSkew:   time.Minute,
		OnEvict:       onEvict,
	})
}

func TestManager_LoginAndResolve(t *testing.T) {
	repo := &mockSessionRepo{}
	m := newTestManager(t, repo, nil, nil)

	sessionID, nav, err := m.Login(context.Background(), "actor@example.com", "secret", "")
	if err != nil {
		t.Fatalf("ログインに失敗した: %v", err)
	}
	if nav != "/dashboard" {
		t.Errorf("遷移先 = %q, want /dashboard", nav)
	}

	store, err := m.Resolve(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Resolveに失敗した: %v", err)
	}
	waitFor(t, func() bool {
		u := store.User()
		return u != nil && u.ID == 7
	}, "ログイン後にユーザーが同期されるべき")

	if m.APIClient(sessionID) == nil {
		t.Error("メモリ上のセッションにはAPIクライアントが紐付くべき")
	}
}

// 401による強制失効は、イベント購読の停止とプロバイダーセッションの破棄、
// セッション行の削除、OnEvictによるUI状態の破棄まで一括で行う。
func TestManager_EvictTearsDownSession(t *testing.T) {
	repo := &mockSessionRepo{}
	var evictedMu sync.Mutex
	var evicted []string
	m := newTestManager(t, repo, nil, func(sessionID string) {
		evictedMu.Lock()
		evicted = append(evicted, sessionID)
		evictedMu.Unlock()
	})

	sessionID, _, err := m.Login(context.Background(), "actor@example.com", "secret", "")
	if err != nil {
		t.Fatalf("ログインに失敗した: %v", err)
	}
	store, err := m.Resolve(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Resolveに失敗した: %v", err)
	}

	m.Evict(context.Background(), sessionID)

	if store.Session() != nil {
		t.Error("失効後はプロバイダーセッションが破棄されるべき")
	}
	if store.User() != nil {
		t.Error("失効後はユーザー状態がクリアされるべき")
	}
	if m.APIClient(sessionID) != nil {
		t.Error("失効後のセッションにAPIクライアントが残るべきではない")
	}
	repo.mu.Lock()
	deletedID := repo.deletedID
	repo.mu.Unlock()
	if deletedID != sessionID {
		t.Errorf("削除されたセッション行 = %q, want %q", deletedID, sessionID)
	}
	evictedMu.Lock()
	defer evictedMu.Unlock()
	if len(evicted) != 1 || evicted[0] != sessionID {
		t.Errorf("OnEvict呼び出し = %v, want [%s]", evicted, sessionID)
	}
}

// 同じセッションの同時リクエストが両方とも復元経路に入っても、
// リフレッシュは1回だけ実行される。トークンローテーション下で
// 負けた側の失敗がセッション行の削除に連鎖するのを防ぐ。
func TestManager_ResolveSingleFlightRestore(t *testing.T) {
	var refreshes atomic.Int64
	repo := &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.BrowserSession, error) {
			// 両方のリクエストが復元経路に入るだけの時間を確保する
			time.Sleep(20 * time.Millisecond)
			return &model.BrowserSession{
				ID:           id,
				Email:        "actor@example.com",
				RefreshToken: "rt-persisted",
				ExpiresAt:    time.Now().Add(time.Hour),
			}, nil
		},
	}
	m := newTestManager(t, repo, &refreshes, nil)

	const sessionID = "b2c7a1de-0000-4000-8000-000000000001"
	stores := make([]*Store, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i], errs[i] = m.Resolve(context.Background(), sessionID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Resolve[%d]に失敗した: %v", i, err)
		}
	}
	if stores[0] != stores[1] {
		t.Error("同じセッションIDのResolveは同じStoreを返すべき")
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("リフレッシュ回数 = %d, want 1", got)
	}
	if got := repo.updateCalls.Load(); got != 1 {
		t.Errorf("UpdateRefreshTokenの呼び出し回数 = %d, want 1", got)
	}
	if got := repo.deleteCalls.Load(); got != 0 {
		t.Errorf("復元成功時にセッション行が削除された (%d回)", got)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.updatedRT != "rt-rotated" {
		t.Errorf("保存されたリフレッシュトークン = %q, want rt-rotated", repo.updatedRT)
	}
}

func TestManager_ResolveUnknownSession(t *testing.T) {
	repo := &mockSessionRepo{}
	m := newTestManager(t, repo, nil, nil)

	if _, err := m.Resolve(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Errorf("未知のセッションのResolve = %v, want ErrSessionNotFound", err)
	}
}
