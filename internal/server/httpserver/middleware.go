package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type startKey struct{}

// requestStart returns when RequestID saw the request, or the zero time.
func requestStart(ctx context.Context) time.Time {
	t, _ := ctx.Value(startKey{}).(time.Time)
	return t
}

// RequestID tags each request with an id, keeping one sent by the client
// in X-Request-ID, and echoes it in the response.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = "req-" + ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := context.WithValue(logger.WithRequestID(r.Context(), id), startKey{}, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Trace runs each request in a server span and puts the trace id where
// the logger finds it. A nil provider disables it.
func Trace(tp *tracer.Provider) Middleware {
	return func(next http.Handler) http.Handler {
		if tp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tp.Start(r.Context(), "http "+route(r),
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route(r)))
			defer span.End()
			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = logger.WithTraceID(ctx, sc.TraceID().String())
			}

			sw := wrap(w)
			next.ServeHTTP(sw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", sw.status))
			if sw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.status))
			}
		})
	}
}

// Metrics counts requests and observes their latency per route pattern.
// A nil registry disables it.
func Metrics(reg *metric.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		if reg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)
			next.ServeHTTP(sw, r)
			reg.ObserveRequest(r.Method, route(r), sw.status, time.Since(start))
		})
	}
}

// Audit logs one line per request: info for success, warn for client
// errors, error for server errors.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrap(w)
			next.ServeHTTP(sw, r)

			level, msg := slog.LevelInfo, "request completed"
			switch {
			case sw.status >= 500:
				level, msg = slog.LevelError, "request completed with error"
			case sw.status >= 400:
				level, msg = slog.LevelWarn, "request completed with client error"
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.String("client_ip", clientIP(r)),
			}
			if start := requestStart(r.Context()); !start.IsZero() {
				attrs = append(attrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			}
			log.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}

// Recover turns a panic in the handler into a 500 response.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.ErrorContext(r.Context(), "panic recovered", "panic", fmt.Sprint(v), "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, domain.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// route returns the matched mux pattern so metric labels stay bounded.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// writeError answers in the same envelope as the API handlers.
func writeError(w http.ResponseWriter, status int, err *domain.DomainError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Error-Code", err.Code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      err.Code,
		"message":   err.Error(),
		"timestamp": time.Now().UnixMilli(),
	})
}
