// Package apiclient はSerifu APIへの型付きHTTPクライアントを提供する。
// ベアラートークンの付与、タイムアウト、エラー応答の正規化を一箇所に集約し、
// 呼び出し側はGet/Post/Put/Patch/Deleteの各メソッドだけを使う。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/serifu/internal/model"
)

// TokenSource はリクエストに付与するアクセストークンの供給元。
// 空文字列を返した場合、Authorizationヘッダーは付与されない。
type TokenSource interface {
	Token() string
}

// TokenFunc は関数をTokenSourceとして使うためのアダプタ。
type TokenFunc func() string

// Token はTokenSourceを実装する。
func (f TokenFunc) Token() string { return f() }

// Recorder はAPI呼び出しのメトリクス記録のインターフェース。
// metricsパッケージのCollectorが実装する。
type Recorder interface {
	RecordAPIRequest(method string, statusCode int, duration time.Duration)
}

// Response はAPI応答を表す。DataにはレスポンスボディがそのままDataとして入る。
// JSONでないボディもそのまま保持する。
type Response struct {
	Status     int
	StatusText string
	Data       []byte
}

// Options はリクエスト単位のオプション。
type Options struct {
	// Timeout が正の場合、リクエスト全体にタイムアウトを適用する。
	// タイムアウト到達時は下層のリクエストがキャンセルされる。
	Timeout time.Duration
	// Headers は追加・上書きするヘッダー。Content-Typeを含む場合、
	// デフォルトのapplication/jsonを上書きする。
	Headers http.Header
}

// Client はSerifu APIのHTTPクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger

	// onUnauthorized は401応答時に毎回呼び出されるフック。
	// グローバルなサインアウトとリダイレクトはフック側の責務。
	// nilの場合は何もしない（未認証コンテキストでの再利用を許す）。
	onUnauthorized func()

	recorder Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは相対パスの前置に使われるSerifu APIのオリジン。
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// SetOnUnauthorized は401応答時のフックを設定する。
func (c *Client) SetOnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// SetRecorder はメトリクスレコーダーを設定する。
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// Get はGETリクエストを送信し、JSON応答をoutにデコードする。
func (c *Client) Get(ctx context.Context, path string, out any, opts *Options) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts)
}

// Post はPOSTリクエストを送信し、JSON応答をoutにデコードする。
func (c *Client) Post(ctx context.Context, path string, body, out any, opts *Options) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, out, opts)
}

// Put はPUTリクエストを送信し、JSON応答をoutにデコードする。
func (c *Client) Put(ctx context.Context, path string, body, out any, opts *Options) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, out, opts)
}

// Patch はPATCHリクエストを送信し、JSON応答をoutにデコードする。
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts *Options) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts)
}

// Delete はDELETEリクエストを送信し、JSON応答をoutにデコードする。
func (c *Client) Delete(ctx context.Context, path string, out any, opts *Options) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts)
}

// Do はHTTPリクエストを送信する。
// 成功時（2xx）はJSONボディをoutにデコードしたResponseを返す。
// 失敗はすべてエラーとして返し、HTTPエラーの場合は*Errorに応答を添付する。
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts *Options) (*Response, error) {
	// 1. URL解決: 絶対URLはそのまま、相対パスはAPIオリジンを前置する
	reqURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		reqURL = c.baseURL + path
	}

	// 2. タイムアウト設定
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// 3. ボディのJSONシリアライズ
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 4. ヘッダー設定: Content-Typeは呼び出し側の指定を優先する
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts != nil {
		for k, vs := range opts.Headers {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	// 5. セッショントークンがある場合のみAuthorizationを付与する
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.recorder != nil {
			c.recorder.RecordAPIRequest(method, 0, time.Since(start))
		}
		return nil, c.translateTransportError(path, err)
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordAPIRequest(method, resp.StatusCode, time.Since(start))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	response := &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Data:       data,
	}

	// 6. 401は全呼び出し共通でサインアウトフックを起動する
	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return nil, model.NewUnauthorizedError()
	}

	// 7. その他の非2xxはボディからメッセージを抽出してエラー化する
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Message:  extractErrorMessage(data, response.StatusText),
			Response: response,
		}
	}

	// 8. 成功: JSON応答はoutにデコード、非JSONはDataのみ
	if out != nil && len(data) > 0 && isJSONContentType(resp.Header.Get("Content-Type")) {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response body: %w", err)
		}
	}

	return response, nil
}

// translateTransportError はトランスポート層の失敗を人間可読なエラーに変換する。
func (c *Client) translateTransportError(path string, err error) error {
	// タイムアウト: 検索エンドポイントはコールドスタートを考慮した専用メッセージ
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		if strings.Contains(path, "/search") {
			return model.NewSearchTimeoutError()
		}
		return fmt.Errorf("request timed out: %w", err)
	}

	// 接続拒否: ローカルでバックエンドが起動していない典型ケース
	if isConnectionRefused(err) {
		if c.logger != nil {
			c.logger.Error("Serifu APIに接続できませんでした",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return model.NewBackendUnreachableError()
	}

	return fmt.Errorf("request failed: %w", err)
}

// isTimeout はnet.Errorのタイムアウトかどうかを判定する。
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionRefused は接続拒否エラーかどうかを判定する。
func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return strings.Contains(opErr.Err.Error(), "connection refused")
}

// extractErrorMessage はエラーレスポンスのボディからメッセージを抽出する。
// detail → message → error の優先順で探し、いずれも無ければステータステキストを返す。
func extractErrorMessage(data []byte, statusText string) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if v, ok := body[key].(string); ok && v != "" {
				return v
			}
		}
	}
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" && !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	return statusText
}

// isJSONContentType はContent-TypeがJSONかどうかを判定する。
func isJSONContentType(ct string) bool {
	return strings.Contains(ct, "application/json")
}
