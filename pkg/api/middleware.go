package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/aragora/aragora/pkg/metrics"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware enforces the explicit origin allow-list. Requests without an
// Origin header (curl, same-origin) pass through untouched.
func (s *Server) corsMiddleware() echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(s.cfg.Server.AllowedOrigins))
	for _, o := range s.cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin == "" {
				return next(c)
			}
			if !allowed[origin] {
				if c.Request().Method == http.MethodOptions {
					return echo.NewHTTPError(http.StatusForbidden, "origin not allowed")
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			if c.Request().Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// authMiddleware verifies bearer tokens. Reads stay open; writes require a
// valid token once a signing key is configured.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !s.auth.Enabled() {
				return next(c)
			}

			if token := bearerToken(c.Request()); token != "" {
				if _, err := s.auth.Verify(token); err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
				}
				return next(c)
			}

			// The WS handler does its own check so it can also read ?token=.
			if c.Request().Method != http.MethodGet && strings.HasPrefix(c.Request().URL.Path, "/api") {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// rateLimitMiddleware applies the per-token and per-IP buckets to /api.
func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api") {
				return next(c)
			}

			// Authenticated callers are bucketed by token subject; everyone
			// else by peer IP.
			limiter := s.ipLimiter
			identity := clientIP(c.Request())
			if s.auth.Enabled() {
				if token := bearerToken(c.Request()); token != "" {
					if subject, err := s.auth.Verify(token); err == nil {
						limiter = s.tokenLimiter
						identity = subject
					}
				}
			}

			ok, retryAfter := limiter.Allow(identity)
			if !ok {
				metrics.RateLimited.Inc()
				seconds := int(retryAfter.Seconds()) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// bearerToken extracts the token from the Authorization header or, for the
// WebSocket handshake, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// clientIP resolves the peer address, preferring the first X-Forwarded-For
// hop set by a fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
