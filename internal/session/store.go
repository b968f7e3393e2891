// Package session は「現在のユーザーが誰か」の単一の真実の源を提供する。
// 外部IDプロバイダーのセッションとバックエンドのプロフィール（/api/auth/me）を
// 突き合わせ、ユーザー状態の遷移（Login/Signup/Logout/RefreshUser）を一元管理する。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/serifu/internal/authprovider"
	"github.com/hitoshi/serifu/internal/model"
)

const (
	// defaultRedirectPath はログイン成功後の既定の遷移先。
	defaultRedirectPath = "/dashboard"
	// signedOutPath はログアウト後の遷移先。
	signedOutPath = "/goodbye"
	// logoutExitDelay はログアウト時の退場アニメーション待ち時間。
	logoutExitDelay = 400 * time.Millisecond
	// lastAuthMethodPassword はローカルストアに記録する認証方式マーカー。
	lastAuthMethodPassword = "password"
)

// ProviderSession はプロバイダーのライブセッションのインターフェース。
// authprovider.Sessionが実装する。
type ProviderSession interface {
	Token() string
	RefreshToken() string
	Claims() (*authprovider.Claims, error)
	Events() <-chan authprovider.Event
	Close()
}

// ProviderClient はプロバイダーの認証操作のインターフェース。
// authprovider.Clientの部分集合として定義する。
type ProviderClient interface {
	SignIn(ctx context.Context, email, password string) (*authprovider.Tokens, error)
	SignUp(ctx context.Context, email, password, name string, marketingOptIn bool) (*authprovider.Tokens, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SessionFactory はトークンの組からライブセッションを生成する。
// 本番ではauthprovider.NewSessionをラップする。
type SessionFactory func(tokens authprovider.Tokens) ProviderSession

// ProfileAPI はバックエンドのプロフィール取得のインターフェース。
type ProfileAPI interface {
	// Me は現在のユーザープロフィールを取得する。
	Me(ctx context.Context) (*model.User, error)
}

// Prefs はローカルストアへの書き込みのうち認証フローが必要とする部分集合。
type Prefs interface {
	// SetLastAuthMethod は最後に使用した認証方式を記録する。
	SetLastAuthMethod(ctx context.Context, method string) error
	// ClearSearchData は検索関連のキー（プレフィックス一致）を削除する。
	ClearSearchData(ctx context.Context) error
}

// StoreConfig はStoreの設定。
type StoreConfig struct {
	Provider   ProviderClient
	NewSession SessionFactory
	Profile    ProfileAPI
	Prefs      Prefs
	Logger     *slog.Logger

	// SyncThrottle 以内に繰り返されたsyncは無視される。
	SyncThrottle time.Duration

	// now と sleep はテストで差し替えるためのフック。
	now   func() time.Time
	sleep func(d time.Duration)
}

// Store は認証状態のストア。プロセス（ブラウザセッション）ごとに1つ生成する。
type Store struct {
	provider   ProviderClient
	newSession SessionFactory
	profile    ProfileAPI
	prefs      Prefs
	logger     *slog.Logger
	throttle   time.Duration
	now        func() time.Time
	sleep      func(d time.Duration)

	mu         sync.Mutex
	session    ProviderSession
	user       *model.User
	loading    bool
	loggingOut bool
	lastSyncAt time.Time

	watchCancel context.CancelFunc
}

// NewStore はStoreを生成する。
// sessionがnil以外の場合（復元時）はStart()で初期同期とイベント購読を開始する。
func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncThrottle <= 0 {
		cfg.SyncThrottle = 3 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}
	return &Store{
		provider:   cfg.Provider,
		newSession: cfg.NewSession,
		profile:    cfg.Profile,
		prefs:      cfg.Prefs,
		logger:     cfg.Logger,
		throttle:   cfg.SyncThrottle,
		now:        cfg.now,
		sleep:      cfg.sleep,
		loading:    true,
	}
}

// Start は初期化を1回だけ実行する。
// 既存セッションがあればloadingを立てて同期し、なければ即座にloadingを下ろす。
// その後セッション変化イベントの購読を開始する。
func (s *Store) Start(ctx context.Context, session ProviderSession) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if session == nil {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return
	}

	s.syncUser(ctx, true)
	s.watch(session)
}

// watch はセッション変化イベントの購読を開始する。
// 初回イベントはStart側の明示的な同期と重複するため無視する。
func (s *Store) watch(session ProviderSession) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-session.Events():
				if !ok {
					return
				}
				switch ev.Type {
				case authprovider.EventInitial:
					// 明示的な初期化で処理済み。二重同期を避ける。
				case authprovider.EventRefreshed:
					// UIのちらつきを避けるためloadingは操作しない
					s.syncUser(ctx, false)
				case authprovider.EventSignedOut:
					s.mu.Lock()
					s.user = nil
					s.mu.Unlock()
				}
			}
		}
	}()
}

// User は現在のユーザーを返す。未ログインまたはログアウト後はnil。
func (s *Store) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Loading は初期同期が進行中かどうかを返す。
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Token は現在のアクセストークンを返す。apiclient.TokenSourceを満たす。
func (s *Store) Token() string {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return ""
	}
	return session.Token()
}

// Session は現在のプロバイダーセッションを返す。永続化用。
func (s *Store) Session() ProviderSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Login はメールアドレスとパスワードで認証する。
// 成功時はバックエンドと同期し、認証方式マーカーを記録した上で、
// フルページ遷移すべきパスを返す。セッションCookieを次のリクエストで
// 確実に持たせるため、クライアント側ルーティングではなくフル遷移を使う。
func (s *Store) Login(ctx context.Context, email, password, redirectTo string) (string, error) {
	tokens, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return "", err
	}

	session := s.newSession(*tokens)
	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.session = session
	s.lastSyncAt = time.Time{} // 新しいセッションの同期はスロットルしない
	s.mu.Unlock()

	s.syncUser(ctx, false)
	s.watch(session)

	if err := s.prefs.SetLastAuthMethod(ctx, lastAuthMethodPassword); err != nil {
		s.logger.Warn("認証方式マーカーの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if redirectTo == "" {
		redirectTo = defaultRedirectPath
	}
	return redirectTo, nil
}

// Signup は新規ユーザーを登録する。
// 登録済みメールアドレスのエラーはログインを促すメッセージに書き換える。
// セッションが発行されない場合（メール確認待ち）は成功扱いにせず、
// 確認手順を案内するエラーを返す。
func (s *Store) Signup(ctx context.Context, email, password, name string, marketingOptIn bool) (string, error) {
	tokens, err := s.provider.SignUp(ctx, email, password, name, marketingOptIn)
	if err != nil {
		switch {
		case errors.Is(err, authprovider.ErrAlreadyRegistered):
			return "", model.NewAlreadyRegisteredError()
		case errors.Is(err, authprovider.ErrConfirmationRequired):
			return "", model.NewConfirmationNeededError()
		default:
			return "", err
		}
	}

	session := s.newSession(*tokens)
	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.session = session
	s.lastSyncAt = time.Time{}
	s.mu.Unlock()

	s.syncUser(ctx, false)
	s.watch(session)

	if err := s.prefs.SetLastAuthMethod(ctx, lastAuthMethodPassword); err != nil {
		s.logger.Warn("認証方式マーカーの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	return defaultRedirectPath, nil
}

// Logout はセッションを破棄し、ログアウト後の遷移先パスを返す。
// 再入防止ガード付き。検索関連のローカルストアキーを削除し、
// プロバイダーからサインアウトした後、退場アニメーションのための
// 短い待機を挟んでフルページ遷移を指示する。
func (s *Store) Logout(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.loggingOut {
		s.mu.Unlock()
		return signedOutPath, nil
	}
	s.loggingOut = true
	session := s.session
	cancel := s.watchCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// 1. 検索履歴等のローカルデータを削除
	if err := s.prefs.ClearSearchData(ctx); err != nil {
		s.logger.Warn("検索データの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	// 2. プロバイダーからサインアウト
	if session != nil {
		if err := s.provider.SignOut(ctx, session.Token()); err != nil {
			s.logger.Warn("プロバイダーからのサインアウトに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		session.Close()
	}

	// 3. 退場アニメーションの完了を待つ
	s.sleep(logoutExitDelay)

	s.mu.Lock()
	s.session = nil
	s.user = nil
	s.loggingOut = false
	s.mu.Unlock()

	return signedOutPath, nil
}

// stop はイベント購読を止め、プロバイダーセッションを閉じて状態を破棄する。
// 強制失効（401）でStoreがレジストリから外れるときに呼ぶ。
func (s *Store) stop() {
	s.mu.Lock()
	cancel := s.watchCancel
	session := s.session
	s.watchCancel = nil
	s.session = nil
	s.user = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.Close()
	}
}

// RefreshUser は強制的に再同期する。loadingは操作しない。
// ロールやプロフィールを変更した後の呼び出しを想定した公開用の逃げ道。
func (s *Store) RefreshUser(ctx context.Context) {
	s.mu.Lock()
	s.lastSyncAt = time.Time{}
	s.mu.Unlock()
	s.syncUser(ctx, false)
}

// syncUser はバックエンドの/api/auth/meと同期する。
// スロットル時間内の繰り返し呼び出しは直近の結果を維持したまま無視する。
// バックエンド未到達時はセッションクレームから縮退ユーザーを合成し、
// ログアウトはさせない（可用性優先のフォールバック）。
func (s *Store) syncUser(ctx context.Context, setLoading bool) {
	s.mu.Lock()
	if s.session == nil {
		s.loading = false
		s.mu.Unlock()
		return
	}
	now := s.now()
	if !s.lastSyncAt.IsZero() && now.Sub(s.lastSyncAt) < s.throttle {
		s.mu.Unlock()
		return
	}
	s.lastSyncAt = now
	if setLoading {
		s.loading = true
	}
	session := s.session
	s.mu.Unlock()

	user, err := s.profile.Me(ctx)
	if err != nil {
		s.logger.Error("プロフィールの同期に失敗しました。縮退ユーザーで継続します",
			slog.String("error", err.Error()),
		)
		user = s.degradedUser(session)
	}

	s.mu.Lock()
	s.user = user
	// 同期が1回完了すればもう初期化中ではない。ログイン経由で生成された
	// Store（Startを通らない）でも確実にloadingを下ろす。
	s.loading = false
	s.mu.Unlock()
}

// degradedUser はセッションクレームのみからユーザーを合成する。
// IDは0番兵。クレームが読めない場合でもnilにはせず空のユーザーを返す。
func (s *Store) degradedUser(session ProviderSession) *model.User {
	user := &model.User{Degraded: true}
	claims, err := session.Claims()
	if err != nil {
		s.logger.Warn("セッションクレームの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return user
	}
	user.Email = claims.Email
	user.Name = claims.Name
	return user
}
