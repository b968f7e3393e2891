// Package authprovider は外部IDプロバイダーとの連携を提供する。
// パスワード認証・サインアップ・トークンリフレッシュのHTTP呼び出しと、
// リフレッシュを自動化しセッション変化イベントを通知するSessionを含む。
package authprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// プロバイダーのエラー種別。呼び出し側がメッセージを書き換えるための番兵。
var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードの不一致。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyRegistered は登録済みメールアドレスでのサインアップ。
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrConfirmationRequired はサインアップ成功だがセッション未発行（メール確認待ち）。
	ErrConfirmationRequired = errors.New("email confirmation required")
)

// Tokens はプロバイダーが発行したトークンの組。
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client は外部IDプロバイダーのHTTPクライアント。
type Client struct {
	baseURL    string
	clientKey  string
	httpClient *http.Client
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL, clientKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		clientKey:  clientKey,
		httpClient: httpClient,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// errorResponse はプロバイダーのエラーレスポンス。
type errorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"msg"`
}

// SignIn はメールアドレスとパスワードでトークンを取得する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*Tokens, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.post(ctx, "/token?grant_type=password", body)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SignUp は新規ユーザーを登録する。
// プロバイダー側でメール確認が必要な設定の場合、トークンは発行されず
// ErrConfirmationRequiredを返す。
func (c *Client) SignUp(ctx context.Context, email, password, name string, marketingOptIn bool) (*Tokens, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]any{
			"name":             name,
			"marketing_opt_in": marketingOptIn,
		},
	}
	resp, err := c.post(ctx, "/signup", body)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, ErrConfirmationRequired
	}
	return resp, nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return c.post(ctx, "/token?grant_type=refresh_token", body)
}

// SignOut はプロバイダー側のセッションを破棄する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.clientKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	// 204以外でもローカルのセッション破棄は続行されるため、ログ用にエラーだけ返す
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout failed with status %d", resp.StatusCode)
	}
	return nil
}

// post はトークン系エンドポイントへのPOSTを実行する。
func (c *Client) post(ctx context.Context, path string, body any) (*Tokens, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.clientKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, data)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode auth provider response: %w", err)
	}

	return &Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// classifyError はプロバイダーのエラーレスポンスを番兵エラーに分類する。
func classifyError(statusCode int, data []byte) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)

	switch {
	case er.Code == "user_already_exists" || strings.Contains(er.Message, "already registered"):
		return ErrAlreadyRegistered
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnauthorized:
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("auth provider returned status %d: %s", statusCode, er.Message)
	}
}
