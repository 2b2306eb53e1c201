package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestServer(t *testing.T) *Server {
	return createTestServerWithOptions(t, ServerOptions{
		Port:               3001,
		Host:               "127.0.0.1",
		RateLimitPerMinute: 100,
		DefaultTimeout:     5 * time.Second,
	})
}

func createTestServerWithOptions(t *testing.T, options ServerOptions) *Server {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	server, err := NewServer(options, commandqueue.New(), logger)
	require.NoError(t, err)
	t.Cleanup(server.rateLimiter.Stop)

	return server
}

func okHandler(params WebhookParams) (WebhookResponse, error) {
	return WebhookResponse{Status: http.StatusOK, Body: map[string]string{"status": "ok"}}, nil
}

func doRequest(server *Server, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestNewServerDefaults(t *testing.T) {
	server := createTestServerWithOptions(t, ServerOptions{})

	assert.Equal(t, 3001, server.options.Port)
	assert.Equal(t, "0.0.0.0", server.options.Host)
	assert.Equal(t, 300, server.options.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, server.options.DefaultTimeout)
	assert.Equal(t, int64(1<<20), server.options.MaxBodyBytes)
	assert.Equal(t, "0.0.0.0:3001", server.Addr())
}

func TestNewServerRequiresQueue(t *testing.T) {
	_, err := NewServer(ServerOptions{}, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command queue is required")
}

func TestRegisterWebhookValidation(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name    string
		config  WebhookConfig
		wantErr string
	}{
		{name: "missing slash", config: WebhookConfig{Path: "api", Method: http.MethodPost, Handler: okHandler}, wantErr: "must start with /"},
		{name: "bad method", config: WebhookConfig{Path: "/api", Method: "BREW", Handler: okHandler}, wantErr: "invalid HTTP method"},
		{name: "no handler", config: WebhookConfig{Path: "/api", Method: http.MethodPost}, wantErr: "handler is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := server.RegisterWebhook(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisterAndUnregisterWebhook(t *testing.T) {
	server := createTestServer(t)

	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/b", Method: http.MethodPost, Handler: okHandler}))
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/a", Method: http.MethodGet, Handler: okHandler, Description: "a"}))

	routes := server.ListWebhooks()
	require.Len(t, routes, 2)
	assert.Equal(t, "/a", routes[0].Path)
	assert.Equal(t, "a", routes[0].Description)

	assert.True(t, server.UnregisterWebhook("/a", http.MethodGet))
	assert.False(t, server.UnregisterWebhook("/a", http.MethodGet))
	assert.Nil(t, server.getWebhook("/a", http.MethodGet))
}

func TestPrefixRouteMatching(t *testing.T) {
	server := createTestServer(t)

	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/api/material/", Method: http.MethodGet, Prefix: true, Handler: okHandler}))
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/api/materials", Method: http.MethodGet, Handler: okHandler}))

	assert.Equal(t, "/api/material/", server.getWebhook("/api/material/101", http.MethodGet).Path)
	assert.Equal(t, "/api/materials", server.getWebhook("/api/materials", http.MethodGet).Path)
	assert.Nil(t, server.getWebhook("/api/material/101", http.MethodPost))
}

func TestHandleWebhookNotFoundAndMethodNotAllowed(t *testing.T) {
	server := createTestServer(t)
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/api/cart", Method: http.MethodPost, Handler: okHandler}))

	rec := doRequest(server, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(server, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleWebhookParsesJSONAndQuery(t *testing.T) {
	server := createTestServer(t)

	var got WebhookParams
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/echo",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			got = params
			return WebhookResponse{Status: http.StatusCreated, Body: params.Body}, nil
		},
	}))

	rec := doRequest(server, http.MethodPost, "/echo?x=1", `{"a":1}`, map[string]string{
		"Content-Type": "application/json",
		"X-Request-ID": "req-123",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "1", got.Query["x"])
	assert.Equal(t, "/echo", got.Path)
	assert.Equal(t, map[string]interface{}{"a": 1.0}, got.Body)
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}

func TestHandleWebhookFormBody(t *testing.T) {
	server := createTestServer(t)

	var got interface{}
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/form",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			got = params.Body
			return WebhookResponse{Status: http.StatusOK}, nil
		},
	}))

	rec := doRequest(server, http.MethodPost, "/form", "name=Ada&zip=43537", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"name": "Ada", "zip": "43537"}, got)
}

func TestHandleWebhookInvalidJSON(t *testing.T) {
	server := createTestServer(t)
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/echo", Method: http.MethodPost, Handler: okHandler}))

	rec := doRequest(server, http.MethodPost, "/echo", `{"a":`, map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decodeBody(t, rec)["error"])
}

func TestHandleWebhookBodyTooLarge(t *testing.T) {
	server := createTestServerWithOptions(t, ServerOptions{MaxBodyBytes: 16})
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/echo", Method: http.MethodPost, Handler: okHandler}))

	rec := doRequest(server, http.MethodPost, "/echo", `{"payload":"`+strings.Repeat("x", 64)+`"}`, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleWebhookHandlerFailures(t *testing.T) {
	server := createTestServer(t)

	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/error",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			return WebhookResponse{}, assert.AnError
		},
	}))
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/panic",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			panic("boom")
		},
	}))
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:    "/slow",
		Method:  http.MethodPost,
		Timeout: 20 * time.Millisecond,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			<-params.Context.Done()
			time.Sleep(10 * time.Millisecond)
			return okHandler(params)
		},
	}))

	for _, path := range []string{"/error", "/panic", "/slow"} {
		t.Run(path, func(t *testing.T) {
			rec := doRequest(server, http.MethodPost, path, `{}`, nil)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "Internal Server Error", body["error"])
			assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
		})
	}

	st, ok := server.StatsFor("/error", http.MethodPost)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.ServerErrors)
}

func TestHandleWebhookUnencodableBody(t *testing.T) {
	server := createTestServer(t)

	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/inf",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			return jsonOK(map[string]interface{}{"total": math.Inf(1)}), nil
		},
	}))

	rec := doRequest(server, http.MethodPost, "/inf", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decodeBody(t, rec)["error"])

	st, ok := server.StatsFor("/inf", http.MethodPost)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.ServerErrors)
	assert.Equal(t, http.StatusInternalServerError, st.LastStatus)
}

func TestHandleWebhookRateLimit(t *testing.T) {
	server := createTestServerWithOptions(t, ServerOptions{RateLimitPerMinute: 2})
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/limited", Method: http.MethodPost, Handler: okHandler}))
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/free", Method: http.MethodGet, SkipRateLimit: true, Handler: okHandler}))

	headers := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}
	for i := 0; i < 2; i++ {
		rec := doRequest(server, http.MethodPost, "/limited", `{}`, headers)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(server, http.MethodPost, "/limited", `{}`, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		rec = doRequest(server, http.MethodGet, "/free", "", headers)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestHandleWebhookCORSPreflight(t *testing.T) {
	server := createTestServer(t)
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:    "/api/commands",
		Method:  http.MethodGet,
		CORS:    PollCORS(nil),
		Handler: okHandler,
	}))

	rec := doRequest(server, http.MethodOptions, "/api/commands", "", map[string]string{"Origin": "https://milestonetrucks.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://milestonetrucks.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, rec.Body.String())

	rec = doRequest(server, http.MethodGet, "/api/commands", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, DefaultAllowedOrigins[0], rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleHealth(t *testing.T) {
	server := createTestServer(t)
	require.NoError(t, server.RegisterWebhook(WebhookConfig{Path: "/ping", Method: http.MethodGet, Handler: okHandler}))
	doRequest(server, http.MethodGet, "/ping", "", nil)

	rec := doRequest(server, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 1, report.RouteCount)
	require.Len(t, report.Routes, 1)
	assert.Equal(t, int64(1), report.Routes[0].Requests)

	rec = doRequest(server, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMount(t *testing.T) {
	server := createTestServer(t)
	server.Mount("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}))

	rec := doRequest(server, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestStopRejectsNewRequestsAndWaitsForInFlight(t *testing.T) {
	server := createTestServerWithOptions(t, ServerOptions{ShutdownTimeout: 2 * time.Second})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, server.RegisterWebhook(WebhookConfig{
		Path:   "/hold",
		Method: http.MethodPost,
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			close(started)
			<-release
			return okHandler(params)
		},
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	var held *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		held = doRequest(server, http.MethodPost, "/hold", `{}`, nil)
	}()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- server.Stop() }()

	assert.Eventually(t, func() bool {
		server.shutdownMu.RLock()
		defer server.shutdownMu.RUnlock()
		return server.isShuttingDown
	}, time.Second, 5*time.Millisecond)

	rec := doRequest(server, http.MethodPost, "/hold", `{}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, held.Code)
	assert.NoError(t, <-stopped)
}

func TestGetClientIP(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, remoteAddr: "9.9.9.9:1", want: "1.2.3.4"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "4.3.2.1"}, remoteAddr: "9.9.9.9:1", want: "4.3.2.1"},
		{name: "remote addr", remoteAddr: "9.9.9.9:1234", want: "9.9.9.9"},
		{name: "ipv6", remoteAddr: "[::1]:1234", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, server.getClientIP(req))
		})
	}
}
