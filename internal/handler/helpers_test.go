package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/serifu/internal/apiclient"
	"github.com/hitoshi/serifu/internal/localstore"
	"github.com/hitoshi/serifu/internal/middleware"
)

const testSessionID = "sess-test-1"

// fakeClients はAPIClientSourceのテスト実装。全セッションに同じクライアントを返す。
type fakeClients struct {
	client *apiclient.Client
}

func (f *fakeClients) APIClient(sessionID string) *apiclient.Client {
	return f.client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBackend はバックエンドAPIのスタブサーバーとそれを指すクライアントを返す。
func newBackend(t *testing.T, h http.Handler) (*httptest.Server, *fakeClients) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := apiclient.NewClient(srv.URL, srv.Client(), apiclient.TokenFunc(func() string {
		return "access-token"
	}), quietLogger())
	return srv, &fakeClients{client: client}
}

// newBrokenBackendClients は到達不能なバックエンドを指すクライアントを返す。
func newBrokenBackendClients(t *testing.T) *fakeClients {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := apiclient.NewClient(url, &http.Client{}, nil, quietLogger())
	return &fakeClients{client: client}
}

// stubSanitizer はサニタイズを素通しするテスト用実装。
type stubSanitizer struct{}

func (stubSanitizer) Sanitize(rawHTML string) string { return rawHTML }
func (stubSanitizer) SanitizeText(raw string) string { return raw }

// stubValidator はURL検証を素通しするテスト用実装。
type stubValidator struct{ err error }

func (s stubValidator) ValidateURL(rawURL string) error { return s.err }

func newTestLocalStore(t *testing.T) *localstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return localstore.NewStore(client)
}

func newTestRegistry(t *testing.T) *UIStateRegistry {
	t.Helper()
	return NewUIStateRegistry(UIStateConfig{
		Local:     newTestLocalStore(t),
		Sanitizer: stubSanitizer{},
		Validator: stubValidator{},
		Logger:    quietLogger(),
	})
}

// authedRequest はセッションIDをコンテキストに注入したリクエストを作る。
func authedRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.ContextWithSession(req.Context(), testSessionID, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}
