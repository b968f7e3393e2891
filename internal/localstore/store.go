// Package localstore はブラウザセッションごとの揮発的なキー値ストアを提供する。
// 検索履歴、ツアー閲覧フラグ、テーマ設定など、互換性保証のない
// 短命なUI状態をRedisに保持する。
package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultTTL はセッションデータの生存期間。
	defaultTTL = 30 * 24 * time.Hour
	// historyLimit は検索履歴の保持件数。
	historyLimit = 20
)

// Store はRedisクライアントのラッパー。
type Store struct {
	client *redis.Client
}

// Open はRedisへ接続してStoreを生成する。
func Open(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStore は既存のクライアントからStoreを生成する。テスト用。
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close は接続を閉じる。
func (s *Store) Close() error {
	return s.client.Close()
}

// Set はキーへ値を書き込む。
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, defaultTTL).Err()
}

// Get はキーの値を返す。未設定なら空文字列。
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Delete はキーを削除する。
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// DeleteByPrefix はプレフィックス一致するキーをすべて削除する。
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return err
	}
	return s.Delete(ctx, keys...)
}

// --- セッション単位のキー ---

func searchPrefix(sessionID string) string {
	return fmt.Sprintf("search:%s:", sessionID)
}

func historyKey(sessionID string) string {
	return searchPrefix(sessionID) + "history"
}

func lastAuthMethodKey(sessionID string) string {
	return fmt.Sprintf("prefs:%s:last_auth_method", sessionID)
}

func themeKey(sessionID string) string {
	return fmt.Sprintf("prefs:%s:theme", sessionID)
}

func tourSeenKey(sessionID, tourName string) string {
	return fmt.Sprintf("tour:%s:%s", sessionID, tourName)
}

// AddSearchHistory は検索語を履歴の先頭へ追加する。
// 重複は取り除き、保持件数を超えた分は切り捨てる。
func (s *Store) AddSearchHistory(ctx context.Context, sessionID, query string) error {
	if query == "" {
		return nil
	}
	key := historyKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, key, 0, query)
	pipe.LPush(ctx, key, query)
	pipe.LTrim(ctx, key, 0, historyLimit-1)
	pipe.Expire(ctx, key, defaultTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SearchHistory は検索履歴を新しい順で返す。
func (s *Store) SearchHistory(ctx context.Context, sessionID string) ([]string, error) {
	return s.client.LRange(ctx, historyKey(sessionID), 0, historyLimit-1).Result()
}

// SetTheme はテーマ設定を保存する。
func (s *Store) SetTheme(ctx context.Context, sessionID, theme string) error {
	return s.Set(ctx, themeKey(sessionID), theme)
}

// Theme はテーマ設定を返す。未設定なら空文字列。
func (s *Store) Theme(ctx context.Context, sessionID string) (string, error) {
	return s.Get(ctx, themeKey(sessionID))
}

// MarkTourSeen はツアー閲覧フラグのローカルコピーを立てる。
// 正本はバックエンド側のフラグで、これは再表示抑止の近道にすぎない。
func (s *Store) MarkTourSeen(ctx context.Context, sessionID, tourName string) error {
	return s.Set(ctx, tourSeenKey(sessionID, tourName), "1")
}

// TourSeen はツアー閲覧フラグのローカルコピーを返す。
func (s *Store) TourSeen(ctx context.Context, sessionID, tourName string) (bool, error) {
	val, err := s.Get(ctx, tourSeenKey(sessionID, tourName))
	return val == "1", err
}

// Prefs はセッションIDを固定したビュー。session.Prefsを実装する。
type Prefs struct {
	store     *Store
	sessionID string
}

// PrefsFor はセッションIDに紐づくPrefsを返す。
func (s *Store) PrefsFor(sessionID string) *Prefs {
	return &Prefs{store: s, sessionID: sessionID}
}

// SetLastAuthMethod は最後に使用した認証方式を記録する。
func (p *Prefs) SetLastAuthMethod(ctx context.Context, method string) error {
	return p.store.Set(ctx, lastAuthMethodKey(p.sessionID), method)
}

// LastAuthMethod は最後に使用した認証方式を返す。
func (p *Prefs) LastAuthMethod(ctx context.Context) (string, error) {
	return p.store.Get(ctx, lastAuthMethodKey(p.sessionID))
}

// ClearSearchData は検索関連のキーをまとめて削除する。ログアウト時に呼ぶ。
func (p *Prefs) ClearSearchData(ctx context.Context) error {
	return p.store.DeleteByPrefix(ctx, searchPrefix(p.sessionID))
}
