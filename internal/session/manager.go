package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/model"
	"github.com/hitoshi/serifu/internal/repository"
)

// ErrSessionNotFound はセッションが存在しない・期限切れ・復元不能のいずれか。
var ErrSessionNotFound = errors.New("session not found")

// PrefsFactory はセッションIDに紐付くPrefsを生成する。
type PrefsFactory func(sessionID string) Prefs

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	Provider       *authprovider.Client
	Sessions       repository.BrowserSessionRepository
	NewPrefs       PrefsFactory
	APIBaseURL     string
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Recorder       apiclient.Recorder
	SessionMaxAge  time.Duration
	SyncThrottle   time.Duration
	ProfileTimeout time.Duration
	RefreshSkew    time.Duration

	// OnEvict はセッション失効時に呼ばれる。セッションに紐付く
	// UI状態（キャッシュ・通知・ツアー）の破棄をワイヤリングする。
	OnEvict func(sessionID string)
}

// entry はブラウザセッション1つ分のメモリ上の状態。
type entry struct {
	store *Store
	api   *apiclient.Client
}

// Manager はブラウザセッションごとのStoreを管理する。
// Cookie ID → Store の対応を持ち、プロセス再起動後は永続化された
// リフレッシュトークンからセッションを復元する。
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	restoring map[string]*sync.Mutex
}

// NewManager はManagerを生成する。
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    cfg.Logger,
		entries:   make(map[string]*entry),
		restoring: make(map[string]*sync.Mutex),
	}
}

// newEntry はセッションID用のStoreとAPIクライアントの組を生成する。
func (m *Manager) newEntry(sessionID string) *entry {
	e := &entry{}

	api := apiclient.NewClient(m.cfg.APIBaseURL, m.cfg.HTTPClient, apiclient.TokenFunc(func() string {
		if e.store == nil {
			return ""
		}
		return e.store.Token()
	}), m.logger)
	if m.cfg.Recorder != nil {
		api.SetRecorder(m.cfg.Recorder)
	}
	// 401はどの呼び出し経路でもセッション全体の失効として扱う
	api.SetOnUnauthorized(func() {
		m.Evict(context.Background(), sessionID)
	})

	e.api = api
	e.store = NewStore(StoreConfig{
		Provider: m.cfg.Provider,
		NewSession: func(tokens authprovider.Tokens) ProviderSession {
			return authprovider.NewSession(m.cfg.Provider, tokens, m.cfg.RefreshSkew, m.logger)
		},
		Profile:      NewAPIProfile(api, m.cfg.ProfileTimeout),
		Prefs:        m.cfg.NewPrefs(sessionID),
		Logger:       m.logger,
		SyncThrottle: m.cfg.SyncThrottle,
	})
	return e
}

// Login は認証してセッションを発行し、セッションIDと遷移先パスを返す。
func (m *Manager) Login(ctx context.Context, email, password, redirectTo string) (string, string, error) {
	sessionID := uuid.New().String()
	e := m.newEntry(sessionID)

	nav, err := e.store.Login(ctx, email, password, redirectTo)
	if err != nil {
		return "", "", err
	}

	if err := m.persist(ctx, sessionID, email, e.store); err != nil {
		return "", "", err
	}

	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()

	m.logger.Info("user logged in", slog.String("session_id", sessionID))
	return sessionID, nav, nil
}

// Signup は新規登録してセッションを発行し、セッションIDと遷移先パスを返す。
func (m *Manager) Signup(ctx context.Context, email, password, name string, marketingOptIn bool) (string, string, error) {
	sessionID := uuid.New().String()
	e := m.newEntry(sessionID)

	nav, err := e.store.Signup(ctx, email, password, name, marketingOptIn)
	if err != nil {
		return "", "", err
	}

	if err := m.persist(ctx, sessionID, email, e.store); err != nil {
		return "", "", err
	}

	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()

	m.logger.Info("user signed up", slog.String("session_id", sessionID))
	return sessionID, nav, nil
}

// persist はセッション行を保存する。
func (m *Manager) persist(ctx context.Context, sessionID, email string, store *Store) error {
	session := store.Session()
	if session == nil {
		return ErrSessionNotFound
	}
	now := time.Now()
	return m.cfg.Sessions.Create(ctx, &model.BrowserSession{
		ID:           sessionID,
		Email:        email,
		RefreshToken: session.RefreshToken(),
		ExpiresAt:    now.Add(m.cfg.SessionMaxAge),
		CreatedAt:    now,
	})
}

// Resolve はセッションIDからStoreを取得する。
// メモリに無い場合は永続化されたリフレッシュトークンから復元する。
// 復元はセッションIDごとに直列化する。同じセッションの同時リクエストが
// 両方ともリフレッシュを実行すると、トークンローテーション下では
// 負けた側の失敗がセッション行の削除まで連鎖してしまうため。
func (m *Manager) Resolve(ctx context.Context, sessionID string) (*Store, error) {
	m.mu.Lock()
	if e, ok := m.entries[sessionID]; ok {
		m.mu.Unlock()
		return e.store, nil
	}
	m.mu.Unlock()

	lock := m.restoreLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// ロック待ちの間に先行リクエストが復元を終えていることがある
	m.mu.Lock()
	if e, ok := m.entries[sessionID]; ok {
		m.mu.Unlock()
		return e.store, nil
	}
	m.mu.Unlock()

	row, err := m.cfg.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}

	tokens, err := m.cfg.Provider.Refresh(ctx, row.RefreshToken)
	if err != nil {
		// リフレッシュトークンが無効ならセッション行ごと破棄する
		m.logger.Warn("セッションの復元に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		_ = m.cfg.Sessions.DeleteByID(ctx, sessionID)
		return nil, ErrSessionNotFound
	}

	e := m.newEntry(sessionID)
	live := authprovider.NewSession(m.cfg.Provider, *tokens, m.cfg.RefreshSkew, m.logger)
	e.store.Start(ctx, live)

	// ローテーションされたリフレッシュトークンを保存し直す
	if err := m.cfg.Sessions.UpdateRefreshToken(ctx, sessionID, live.RefreshToken()); err != nil {
		m.logger.Warn("リフレッシュトークンの更新に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()

	m.logger.Info("session restored", slog.String("session_id", sessionID))
	return e.store, nil
}

// restoreLock はセッションID単位の復元用ロックを返す。
func (m *Manager) restoreLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.restoring[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.restoring[sessionID] = lock
	}
	return lock
}

// APIClient はセッションに紐付くAPIクライアントを返す。
// セッションがメモリに無い場合はnilを返す（先にResolveを呼ぶこと）。
func (m *Manager) APIClient(sessionID string) *apiclient.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[sessionID]; ok {
		return e.api
	}
	return nil
}

// Logout はセッションを破棄し、ログアウト後の遷移先パスを返す。
func (m *Manager) Logout(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	delete(m.entries, sessionID)
	delete(m.restoring, sessionID)
	m.mu.Unlock()

	if err := m.cfg.Sessions.DeleteByID(ctx, sessionID); err != nil {
		m.logger.Warn("セッション行の削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if !ok {
		return signedOutPath, nil
	}
	nav, err := e.store.Logout(ctx)
	if err != nil {
		return signedOutPath, err
	}
	m.logger.Info("user logged out", slog.String("session_id", sessionID))
	return nav, nil
}

// Evict はセッションを即時に失効させる。
// 401応答を受けたAPIクライアントから呼ばれる強制サインアウト経路。
// イベント購読goroutineを止め、セッションに紐付くUI状態も破棄する。
func (m *Manager) Evict(ctx context.Context, sessionID string) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	delete(m.entries, sessionID)
	delete(m.restoring, sessionID)
	m.mu.Unlock()

	_ = m.cfg.Sessions.DeleteByID(ctx, sessionID)

	if ok {
		e.store.stop()
	}
	if m.cfg.OnEvict != nil {
		m.cfg.OnEvict(sessionID)
	}
	m.logger.Info("session evicted", slog.String("session_id", sessionID))
}
