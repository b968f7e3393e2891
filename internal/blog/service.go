// Package blog はランディングページに表示するブログ記事の取得を提供する。
// マーケティングブログのRSSフィードを取得・パースし、TTL付きで
// キャッシュする。取得失敗時は前回のキャッシュを返し続ける。
package blog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	// cacheTTL はブログ記事キャッシュの生存期間。
	cacheTTL = 15 * time.Minute
	// fetchTimeout はフィード取得の打ち切り時間。
	fetchTimeout = 10 * time.Second
	// maxBodySize はフィード本文の読み込み上限。
	maxBodySize = 2 * 1024 * 1024
	// maxPosts はランディングページに出す記事の最大件数。
	maxPosts = 6
)

// Post はランディングページに表示するブログ記事。
type Post struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SafeClientFactory はSSRF防止付きHTTPクライアントの生成。
// security.SSRFGuardServiceの部分集合。
type SafeClientFactory interface {
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Sanitizer は記事概要のサニタイズ。security.ContentSanitizerServiceの部分集合。
type Sanitizer interface {
	SanitizeText(raw string) string
}

// Service はブログ記事の取得とキャッシュを行う。
type Service struct {
	feedURL   string
	client    *http.Client
	sanitizer Sanitizer
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	cached    []Post
	fetchedAt time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(feedURL string, guard SafeClientFactory, sanitizer Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		feedURL:   feedURL,
		client:    guard.NewSafeClient(fetchTimeout, maxBodySize),
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Posts は最新のブログ記事を返す。
// キャッシュが有効期間内ならそれを返し、切れていれば再取得する。
// 再取得に失敗した場合は古いキャッシュを返し続ける。
func (s *Service) Posts(ctx context.Context) ([]Post, error) {
	s.mu.Lock()
	if len(s.cached) > 0 && s.now().Sub(s.fetchedAt) < cacheTTL {
		posts := s.cached
		s.mu.Unlock()
		return posts, nil
	}
	s.mu.Unlock()

	posts, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("ブログフィードの取得に失敗しました",
			slog.String("feed_url", s.feedURL),
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		cached := s.cached
		s.mu.Unlock()
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cached = posts
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return posts, nil
}

// fetch はフィードを取得してパースする。
func (s *Service) fetch(ctx context.Context) ([]Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Serifu/1.0 Web Client")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("フィードがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("フィードの読み込みに失敗しました: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	return s.convert(feed.Items), nil
}

// convert はgofeedの記事をPostに変換する。概要はタグを除去した
// プレーンテキストに切り詰める。
func (s *Service) convert(items []*gofeed.Item) []Post {
	posts := make([]Post, 0, maxPosts)
	for _, item := range items {
		if item == nil {
			continue
		}
		if len(posts) >= maxPosts {
			break
		}

		post := Post{
			Title:   item.Title,
			Link:    item.Link,
			Summary: truncate(s.sanitizer.SanitizeText(item.Description), 200),
		}
		if item.Author != nil {
			post.Author = item.Author.Name
		}
		if post.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			post.Author = item.Authors[0].Name
		}
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			post.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			post.PublishedAt = &t
		}

		posts = append(posts, post)
	}
	return posts
}

// truncate はルーン単位で文字列を切り詰める。
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
