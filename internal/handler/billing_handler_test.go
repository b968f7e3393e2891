package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/serifu/internal/model"
)

func TestBillingHandler_Subscription(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.Subscription{Plan: "pro", Status: "active"})
	})
	_, clients := newBackend(t, mux)

	h := NewBillingHandler(clients, newTestRegistry(t), quietLogger())

	req := authedRequest(t, http.MethodGet, "/api/subscriptions/me", nil)
	rec := httptest.NewRecorder()
	h.Subscription(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var sub model.Subscription
	decodeBody(t, rec, &sub)
	assert.Equal(t, "pro", sub.Plan)
}

func TestBillingHandler_History_EmptyIsNotNull(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions/billing-history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("null"))
	})
	_, clients := newBackend(t, mux)

	h := NewBillingHandler(clients, newTestRegistry(t), quietLogger())

	req := authedRequest(t, http.MethodGet, "/api/subscriptions/billing-history", nil)
	rec := httptest.NewRecorder()
	h.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestBillingHandler_CreatePortalSession_ValidURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions/create-portal-session", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"url": "https://billing.stripe.com/p/session_abc"})
	})
	_, clients := newBackend(t, mux)

	h := NewBillingHandler(clients, newTestRegistry(t), quietLogger())

	req := authedRequest(t, http.MethodPost, "/api/subscriptions/create-portal-session", nil)
	rec := httptest.NewRecorder()
	h.CreatePortalSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		URL string `json:"url"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "https://billing.stripe.com/p/session_abc", resp.URL)
}

func TestBillingHandler_CreatePortalSession_BlockedURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions/create-portal-session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://evil.example.com/steal"})
	})
	_, clients := newBackend(t, mux)

	h := NewBillingHandler(clients, newTestRegistry(t), quietLogger())

	req := authedRequest(t, http.MethodPost, "/api/subscriptions/create-portal-session", nil)
	rec := httptest.NewRecorder()
	h.CreatePortalSession(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, model.ErrCodePortalURLBlocked, body.Code)
}

func TestBillingHandler_BackendDown_Returns502(t *testing.T) {
	clients := newBrokenBackendClients(t)
	h := NewBillingHandler(clients, newTestRegistry(t), quietLogger())

	req := authedRequest(t, http.MethodGet, "/api/subscriptions/usage", nil)
	rec := httptest.NewRecorder()
	h.Usage(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, model.ErrCodeBackendUnreachable, body.Code)
}
