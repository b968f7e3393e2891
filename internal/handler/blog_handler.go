package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/serifu/internal/blog"
)

// BlogPostSource はランディングページ向けブログ記事の取得。
// blog.Serviceが実装する。
type BlogPostSource interface {
	Posts(ctx context.Context) ([]blog.Post, error)
}

// BlogHandler は製品ブログフィードのHTTPハンドラー。
// ランディングページから認証なしで呼ばれる唯一のデータ系エンドポイント。
type BlogHandler struct {
	posts  BlogPostSource
	logger *slog.Logger
}

// NewBlogHandler はBlogHandlerを生成する。
func NewBlogHandler(posts BlogPostSource, logger *slog.Logger) *BlogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlogHandler{posts: posts, logger: logger}
}

// blogResponse はブログ記事一覧のレスポンス。
type blogResponse struct {
	Posts []blog.Post `json:"posts"`
}

// List は製品ブログの最新記事を返す。
// GET /api/blog/posts
// フィード取得に失敗しても空一覧の200で応える。ランディングページの
// 表示をフィードの不調で壊さないため。
func (h *BlogHandler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.Posts(r.Context())
	if err != nil {
		h.logger.Warn("blog feed fetch failed", slog.String("error", err.Error()))
		posts = nil
	}
	if posts == nil {
		posts = []blog.Post{}
	}
	writeJSON(w, blogResponse{Posts: posts})
}
