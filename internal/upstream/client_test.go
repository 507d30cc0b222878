package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zbridge-dev/zbridge/internal/cache"
	"github.com/zbridge-dev/zbridge/internal/config"
)

func testClient(t *testing.T, upstreamURL string) (*Client, *cache.Cache) {
	t.Helper()
	cfg := &config.AppConfig{
		APIBase:          upstreamURL,
		AnonTokenEnabled: true,
		UpstreamToken:    "configured-token",
		AuthTokenTTL:     time.Minute,
	}
	c := cache.New(time.Minute, 16)
	t.Cleanup(c.Close)
	return NewClient(cfg, c), c
}

func TestAuthTokenAnonymousFetchAndCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auths/", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("X-FE-Version"))
		hits++
		w.Write([]byte(`{"token":"anon-token"}`))
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	assert.Equal(t, "anon-token", client.AuthToken(context.Background()))
	assert.Equal(t, "anon-token", client.AuthToken(context.Background()))
	assert.Equal(t, 1, hits, "second call served from cache")
}

func TestAuthTokenFallsBackToConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	assert.Equal(t, "configured-token", client.AuthToken(context.Background()))
}

func TestAuthTokenDisabledAnon(t *testing.T) {
	client, _ := testClient(t, "http://unused.invalid")
	client.cfg.AnonTokenEnabled = false
	assert.Equal(t, "configured-token", client.AuthToken(context.Background()))
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auths/":
			w.Write([]byte(`{"token":"anon"}`))
		case "/api/models":
			assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":[{"id":"GLM-4.5","name":"GLM 4.5","info":{"created_at":1700000000}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	models, err := client.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models.Data, 1)
	assert.Equal(t, "GLM-4.5", models.Data[0].ID)
}

func TestChatCompletionSendsBrowserHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auths/":
			w.Write([]byte(`{"token":"anon"}`))
		case "/api/chat/completions":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.Header.Get("Referer"), "/c/chat-123")
			assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
			w.Write([]byte("data: [DONE]\n"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	body, err := client.ChatCompletion(context.Background(), &Request{ChatID: "chat-123", Model: "GLM-4.5"})
	require.NoError(t, err)
	body.Close()
}

func TestChatCompletionGraftsPassThroughParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auths/":
			w.Write([]byte(`{"token":"anon"}`))
		case "/api/chat/completions":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, int64(1), gjson.GetBytes(body, "custom_field.a").Int())
			assert.Equal(t, "GLM-4.5", gjson.GetBytes(body, "model").String())
			w.Write([]byte("data: [DONE]\n"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	body, err := client.ChatCompletion(context.Background(), &Request{
		ChatID: "chat-1",
		Model:  "GLM-4.5",
		Params: map[string]interface{}{"custom_field": map[string]interface{}{"a": 1}},
	})
	require.NoError(t, err)
	body.Close()
}

func TestChatCompletionUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auths/" {
			w.Write([]byte(`{"token":"anon"}`))
			return
		}
		http.Error(w, "upstream busted", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := testClient(t, srv.URL)
	_, err := client.ChatCompletion(context.Background(), &Request{ChatID: "x"})
	require.Error(t, err)
}
