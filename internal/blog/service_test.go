package blog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Serifu Blog</title>
<link>https://blog.example.com</link>
<item>
<title>オーディション対策の新機能</title>
<link>https://blog.example.com/audition-features</link>
<description>&lt;p&gt;検索フィルターを&lt;strong&gt;強化&lt;/strong&gt;しました&lt;/p&gt;</description>
<author>editor@example.com (編集部)</author>
<pubDate>Mon, 04 Aug 2025 10:00:00 +0000</pubDate>
</item>
<item>
<title>夏の独白特集</title>
<link>https://blog.example.com/summer-monologues</link>
<description>季節に合わせた独白を集めました</description>
</item>
</channel>
</rss>`

type plainGuard struct{}

func (plainGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

type stripSanitizer struct{}

func (stripSanitizer) SanitizeText(raw string) string { return raw }

func newFeedServer(t *testing.T, calls *atomic.Int64, status int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestService_Posts(t *testing.T) {
	var calls atomic.Int64
	ts := newFeedServer(t, &calls, http.StatusOK)

	svc := NewService(ts.URL, plainGuard{}, stripSanitizer{}, nil)

	posts, err := svc.Posts(context.Background())
	if err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("len = %d, want 2", len(posts))
	}
	if posts[0].Title != "オーディション対策の新機能" {
		t.Errorf("title = %q", posts[0].Title)
	}
	if posts[0].Link != "https://blog.example.com/audition-features" {
		t.Errorf("link = %q", posts[0].Link)
	}
	if posts[0].PublishedAt == nil {
		t.Error("公開日時がパースされていない")
	}
}

func TestService_PostsUsesCacheWithinTTL(t *testing.T) {
	var calls atomic.Int64
	ts := newFeedServer(t, &calls, http.StatusOK)

	svc := NewService(ts.URL, plainGuard{}, stripSanitizer{}, nil)

	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("フェッチ回数 = %d, want 1（TTL内はキャッシュを使うべき）", got)
	}
}

func TestService_PostsRefetchesAfterTTL(t *testing.T) {
	var calls atomic.Int64
	ts := newFeedServer(t, &calls, http.StatusOK)

	svc := NewService(ts.URL, plainGuard{}, stripSanitizer{}, nil)
	current := time.Now()
	svc.now = func() time.Time { return current }

	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}

	current = current.Add(cacheTTL + time.Minute)
	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("フェッチ回数 = %d, want 2（TTL経過後は再取得すべき）", got)
	}
}

func TestService_PostsServesStaleOnFailure(t *testing.T) {
	var calls atomic.Int64
	ts := newFeedServer(t, &calls, http.StatusOK)

	svc := NewService(ts.URL, plainGuard{}, stripSanitizer{}, nil)
	current := time.Now()
	svc.now = func() time.Time { return current }

	if _, err := svc.Posts(context.Background()); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}

	// サーバーを落としてTTLを経過させる
	ts.Close()
	current = current.Add(cacheTTL + time.Minute)

	posts, err := svc.Posts(context.Background())
	if err != nil {
		t.Fatalf("取得失敗時は古いキャッシュを返すべき: %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("len = %d, want 2", len(posts))
	}
}

func TestService_PostsErrorWithoutCache(t *testing.T) {
	var calls atomic.Int64
	ts := newFeedServer(t, &calls, http.StatusInternalServerError)

	svc := NewService(ts.URL, plainGuard{}, stripSanitizer{}, nil)

	if _, err := svc.Posts(context.Background()); err == nil {
		t.Fatal("キャッシュなしでの取得失敗はエラーを返すべき")
	}
}
