// Package httpserver provides the HTTP/HTTPS admin server of rxcheckpoint.
//
// Routes:
//
//   - Health: /health, /ready, /metrics
//   - Entities: /v1/entities/{kind}
//   - Admin: /admin/v1/checkpoints, /admin/v1/recoveries, /admin/v1/status/summary
//
// Middleware chain: Metrics, Recover, RequestID, Trace, RateLimit, Audit,
// and NetworkACL plus AdminAuth on admin routes.
package httpserver
