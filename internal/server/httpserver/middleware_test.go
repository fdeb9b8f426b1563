package httpserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChain(t *testing.T) {
	var trail []string
	step := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trail = append(trail, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	final := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { trail = append(trail, "handler") })

	serve(Chain(final, step("a"), step("b"), step("c")), "")
	assert.Equal(t, []string{"a", "b", "c", "handler"}, trail)

	trail = nil
	serve(Chain(final), "")
	assert.Equal(t, []string{"handler"}, trail)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		assert.False(t, requestStart(r.Context()).IsZero(), "start time missing from context")
	}))

	rec := serve(h, "")
	id := rec.Header().Get("X-Request-ID")
	assert.Regexp(t, `^req-[0-9A-Z]{26}$`, id)
	assert.Equal(t, id, seen)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "client-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-42", seen)
}

func TestRecover(t *testing.T) {
	h := Recover(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := serve(h, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "RX-SYS-5000", rec.Header().Get("X-Error-Code"))
	assert.Contains(t, rec.Body.String(), `"code":"RX-SYS-5000"`)

	assert.Equal(t, http.StatusOK, serve(Recover(quietLogger())(okHandler()), "").Code)
}

func TestMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("GET /things/{id}", Metrics(reg)(okHandler()))
	for _, path := range []string{"/things/1", "/things/2"} {
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "GET /things/{id}", "200")))
	assert.NotNil(t, Metrics(nil)(okHandler()), "nil registry should pass through")
}

func TestTrace(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := tracer.NewWithSDK(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	var traceID string
	h := Trace(tp)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logger.TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	serve(h, "")

	assert.Len(t, traceID, 32)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code, "a 503 marks the span failed")
}

func TestAudit(t *testing.T) {
	tests := []struct {
		status int
		level  string
		msg    string
	}{
		{http.StatusOK, "INFO", "request completed"},
		{http.StatusNotFound, "WARN", "request completed with client error"},
		{http.StatusBadGateway, "ERROR", "request completed with error"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf strings.Builder
			log, err := logger.New(logger.Config{Level: "info", Format: "text", Output: &buf})
			require.NoError(t, err)
			serve(Chain(statusHandler(tt.status), RequestID(), Audit(log)), "10.1.1.1:5")

			out := buf.String()
			for _, want := range []string{"level=" + tt.level, `msg="` + tt.msg + `"`, "request_id=req-", "client_ip=10.1.1.1", "duration_ms="} {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := wrap(rec)
	assert.Equal(t, http.StatusOK, sw.status)
	sw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, sw.status)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Same(t, sw, wrap(sw), "wrap must not wrap twice")
	assert.Equal(t, http.ResponseWriter(rec), sw.Unwrap())
}

func TestRoute(t *testing.T) {
	req := httptest.NewRequest("GET", "/x", nil)
	assert.Equal(t, "unmatched", route(req))
	req.Pattern = "GET /x"
	assert.Equal(t, "GET /x", route(req))
}
