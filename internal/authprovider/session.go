package authprovider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EventType はセッション変化イベントの種別。
type EventType string

const (
	// EventInitial は購読開始時に現在のセッションを通知する初回イベント。
	// 明示的な初期化と二重になるため、購読側は無視することを想定している。
	EventInitial EventType = "initial"
	// EventRefreshed はトークンがリフレッシュされたことを示す。
	EventRefreshed EventType = "refreshed"
	// EventSignedOut はセッションが失効・破棄されたことを示す。
	EventSignedOut EventType = "signed_out"
)

// Event はセッション変化の通知。
type Event struct {
	Type EventType
}

// Claims はアクセストークンから読み取ったユーザークレーム。
type Claims struct {
	Subject string
	Email   string
	Name    string
}

// Session はプロバイダーのログインセッションを表す。
// トークンを保持し、期限前の自動リフレッシュとイベント通知を行う。
// Token()はapiclient.TokenSourceを満たす。
type Session struct {
	client *Client
	logger *slog.Logger
	skew   time.Duration

	mu     sync.Mutex
	tokens Tokens
	closed bool

	events chan Event
	done   chan struct{}
}

// NewSession はトークンの組からSessionを生成し、リフレッシュループを開始する。
// skewは期限の何秒前にリフレッシュするかを指定する。
func NewSession(client *Client, tokens Tokens, skew time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		client: client,
		logger: logger,
		skew:   skew,
		tokens: tokens,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}

	// 購読側の初期化重複を避けるための初回イベント
	s.emit(Event{Type: EventInitial})

	go s.refreshLoop()
	return s
}

// Token は現在のアクセストークンを返す。失効後は空文字列を返す。
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.tokens.AccessToken
}

// RefreshToken は現在のリフレッシュトークンを返す。
// ブラウザセッションの永続化に使用する。
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.RefreshToken
}

// Events はセッション変化イベントのチャネルを返す。
func (s *Session) Events() <-chan Event {
	return s.events
}

// Claims はアクセストークンのクレームを検証なしで読み取る。
// 署名検証はバックエンドの責務であり、クライアント側では
// 縮退ユーザー合成のための表示情報としてのみ使用する。
func (s *Session) Claims() (*Claims, error) {
	s.mu.Lock()
	token := s.tokens.AccessToken
	s.mu.Unlock()

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return &Claims{}, nil
	}

	c := &Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		c.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		c.Email = email
	}
	// プロバイダーはプロフィール項目をuser_metadata配下に格納する
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok {
			c.Name = name
		}
	}
	return c, nil
}

// Close はセッションを破棄し、リフレッシュループを停止する。
// EventSignedOutを通知する。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.emit(Event{Type: EventSignedOut})
}

// refreshLoop は期限のskew前にトークンをリフレッシュし続ける。
// リフレッシュ失敗はセッション失効として扱い、EventSignedOutを通知する。
func (s *Session) refreshLoop() {
	for {
		s.mu.Lock()
		wait := time.Until(s.tokens.ExpiresAt) - s.skew
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		tokens, err := s.client.Refresh(ctx, s.RefreshToken())
		cancel()
		if err != nil {
			s.logger.Error("トークンのリフレッシュに失敗しました",
				slog.String("error", err.Error()),
			)
			s.Close()
			return
		}

		s.mu.Lock()
		s.tokens = *tokens
		s.mu.Unlock()

		s.emit(Event{Type: EventRefreshed})
	}
}

// emit はイベントを非ブロッキングで送信する。
// 購読側が追いついていない場合は古いイベントを破棄する。
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
