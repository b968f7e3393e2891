package monologue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// previewTimeout はプレビュー取得の打ち切り時間。
	previewTimeout = 10 * time.Second
	// previewMaxBodySize はプレビュー取得で読み込むボディの上限。
	previewMaxBodySize = 512 * 1024
)

// LinkPreview は出典リンクのプレビュー情報。
// 投稿フォームで出典URLの内容を確認するために使う。
type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SafeClientFactory はSSRF防止付きHTTPクライアントの生成。
// security.SSRFGuardServiceの部分集合。
type SafeClientFactory interface {
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
	ValidateURL(rawURL string) error
}

// Previewer は出典リンクのプレビューを取得する。
// 取得先はユーザー入力のURLであるため、必ずSSRF防止付きの
// クライアントを経由する。
type Previewer struct {
	guard  SafeClientFactory
	client *http.Client
}

// NewPreviewer はPreviewerの新しいインスタンスを生成する。
func NewPreviewer(guard SafeClientFactory) *Previewer {
	return &Previewer{
		guard:  guard,
		client: guard.NewSafeClient(previewTimeout, previewMaxBodySize),
	}
}

// Fetch は出典URLのタイトルと概要を取得する。
func (p *Previewer) Fetch(ctx context.Context, rawURL string) (*LinkPreview, error) {
	if err := p.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("出典URLの検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("出典ページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("出典ページの取得に失敗しました: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, previewMaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("出典ページの読み込みに失敗しました: %w", err)
	}

	preview := parsePreview(body)
	preview.URL = rawURL
	return preview, nil
}

// parsePreview はHTMLのheadタグからタイトルと概要を抽出する。
// OGPメタタグを優先し、なければtitleタグへフォールバックする。
func parsePreview(htmlBody []byte) *LinkPreview {
	preview := &LinkPreview{}
	var titleTag string

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false
	inTitle := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return finishPreview(preview, titleTag)

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				return finishPreview(preview, titleTag)
			}
			if !inHead {
				continue
			}

			if tagName == "title" {
				inTitle = true
				continue
			}

			if tagName != "meta" || !hasAttr {
				continue
			}

			// meta要素の属性を解析
			var property, name, content string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property":
					property = strings.ToLower(string(val))
				case "name":
					name = strings.ToLower(string(val))
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}

			switch {
			case property == "og:title" && preview.Title == "":
				preview.Title = content
			case property == "og:description" && preview.Description == "":
				preview.Description = content
			case name == "description" && preview.Description == "":
				preview.Description = content
			}

		case html.TextToken:
			if inTitle && titleTag == "" {
				titleTag = strings.TrimSpace(string(tokenizer.Text()))
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "title":
				inTitle = false
			case "head":
				return finishPreview(preview, titleTag)
			}
		}
	}
}

// finishPreview はOGPタイトルがない場合にtitleタグへフォールバックする。
func finishPreview(preview *LinkPreview, titleTag string) *LinkPreview {
	if preview.Title == "" {
		preview.Title = titleTag
	}
	return preview
}
