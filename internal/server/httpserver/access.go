package httpserver

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/pkg/token"
)

// maxRateClients bounds the limiter table; it starts over when full.
const maxRateClients = 10000

type clientLimiters struct {
	limit rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func (c *clientLimiters) get(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.m[client]; ok {
		return l
	}
	if c.m == nil || len(c.m) >= maxRateClients {
		c.m = make(map[string]*rate.Limiter)
	}
	l := rate.NewLimiter(c.limit, c.burst)
	c.m[client] = l
	return l
}

// RateLimit gives every client IP its own token bucket.
func RateLimit(limit rate.Limit, burst int) Middleware {
	clients := &clientLimiters{limit: limit, burst: burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !clients.get(clientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth requires "Authorization: Bearer <token>" where token.Hash of
// the token is tokenHash. An empty tokenHash disables the check.
func AdminAuth(tokenHash string) Middleware {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || bearer == "" || !token.Verify(bearer, tokenHash) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rxcheckpoint"`)
				writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseAllowList turns IP and CIDR entries into prefixes; a bare IP becomes
// a single-address prefix. Invalid entries are returned separately.
func ParseAllowList(entries []string) (prefixes []netip.Prefix, invalid []string) {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		invalid = append(invalid, e)
	}
	return prefixes, invalid
}

// NetworkACL admits only clients inside one of the allowed prefixes.
// Invalid entries are logged and skipped; when none is valid every client
// is admitted.
func NetworkACL(allow []string, log *slog.Logger) Middleware {
	prefixes, invalid := ParseAllowList(allow)
	if log == nil {
		log = slog.Default()
	}
	for _, e := range invalid {
		log.Warn("invalid allowlist entry ignored", "entry", e)
	}
	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if addr, err := netip.ParseAddr(ip); err == nil {
				addr = addr.Unmap()
				for _, p := range prefixes {
					if p.Contains(addr) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.WarnContext(r.Context(), "request denied by network ACL", "client_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, domain.ErrForbidden.WithDetails("client not in allowlist"))
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
