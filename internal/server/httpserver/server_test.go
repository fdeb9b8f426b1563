package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
	"github.com/yndnr/rxcheckpoint/internal/storage/memory"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/pkg/token"
)

func newTestRouter(t *testing.T, mutate func(*RouterConfig)) http.Handler {
	t.Helper()
	eng, err := engine.New(engine.DefaultOptions(memory.New()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Unload(context.Background()) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.New(handler.Config{Engine: eng, Logger: log})
	h.SetReady(true)

	cfg := DefaultRouterConfig()
	cfg.Handler = h
	cfg.Logger = log
	cfg.Metrics = metric.NewRegistry()
	if mutate != nil {
		mutate(cfg)
	}
	return NewRouter(cfg)
}

func request(router http.Handler, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	s := New(Config{Addr: ":8080", ReadTimeout: time.Second}, http.NotFoundHandler())
	require.NotNil(t, s.httpServer)
	require.NotNil(t, s.handler)
	assert.Equal(t, time.Second, s.httpServer.ReadTimeout)
	assert.False(t, s.TLS(), "TLS should be off without a TLS config")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{}, newTestRouter(t, nil))

	errChan := make(chan error, 1)
	go func() { errChan <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()
	assert.Positive(t, cfg.RateLimit, "rate limit should be on by default")
	assert.Positive(t, cfg.RateBurst)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method, target string
		want           int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/ready", http.StatusOK},
		{"GET", "/v1/entities/stream", http.StatusOK},
		{"GET", "/admin/v1/status/summary", http.StatusOK},
		{"GET", "/admin/v1/checkpoints/current", http.StatusNotFound},
		{"POST", "/admin/v1/checkpoints", http.StatusCreated},
		{"GET", "/nowhere", http.StatusNotFound},
		{"DELETE", "/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := request(router, tt.method, tt.target, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, nil)
	request(router, "GET", "/health", "")

	rec := request(router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{"rxcheckpoint_http_requests_total", `route="GET /health"`, "go_goroutines"} {
		assert.Contains(t, body, want)
	}
}

func TestRouter_AdminAuth(t *testing.T) {
	tok, err := token.Generate()
	require.NoError(t, err)
	router := newTestRouter(t, func(c *RouterConfig) { c.AdminTokenHash = token.Hash(tok) })

	assert.Equal(t, http.StatusUnauthorized, request(router, "POST", "/admin/v1/checkpoints", "").Code)
	assert.Equal(t, http.StatusCreated, request(router, "POST", "/admin/v1/checkpoints", tok).Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "/v1/entities/stream", "").Code, "entity routes need no admin token")
}

func TestRouter_AdminAllowList(t *testing.T) {
	router := newTestRouter(t, func(c *RouterConfig) { c.AdminAllowList = []string{"10.0.0.0/8"} })

	assert.Equal(t, http.StatusForbidden, request(router, "GET", "/admin/v1/status/summary", "").Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "/health", "").Code)
}

func TestRouter_RateLimit(t *testing.T) {
	router := newTestRouter(t, func(c *RouterConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, request(router, "GET", "/v1/entities/stream", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(router, "GET", "/v1/entities/stream", "").Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "/health", "").Code, "probes are not rate limited")
}
