// Package api is the HTTP and WebSocket surface of the debate engine. It is
// a stateless projection over the service layer: handlers validate input,
// call a service, and translate service errors to HTTP status codes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aragora/aragora/pkg/auth"
	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/metrics"
	"github.com/aragora/aragora/pkg/ratelimit"
	"github.com/aragora/aragora/pkg/services"
	"github.com/aragora/aragora/pkg/storage"
	"github.com/aragora/aragora/pkg/ws"
)

// Options carries the server's collaborators.
type Options struct {
	Config   *config.Config
	Debates  *services.DebateService
	Rankings *services.RankingService
	Events   *services.EventService
	Hub      *ws.Hub
	Auth     *auth.Authenticator
	Store    *storage.Store
	Logger   *slog.Logger
}

// Server is the HTTP server. Construct with NewServer, run with Start, stop
// with Shutdown.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	debates  *services.DebateService
	rankings *services.RankingService
	events   *services.EventService
	hub      *ws.Hub
	auth     *auth.Authenticator
	store    *storage.Store
	logger   *slog.Logger

	tokenLimiter *ratelimit.Limiter
	ipLimiter    *ratelimit.Limiter

	httpSrv *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	rl := opts.Config.RateLimit
	s := &Server{
		echo:         echo.New(),
		cfg:          opts.Config,
		debates:      opts.Debates,
		rankings:     opts.Rankings,
		events:       opts.Events,
		hub:          opts.Hub,
		auth:         opts.Auth,
		store:        opts.Store,
		logger:       opts.Logger,
		tokenLimiter: ratelimit.New(rl.PerTokenPerMinute, burst(rl.PerTokenPerMinute, rl.BurstMultiplier)),
		ipLimiter:    ratelimit.New(rl.PerIPPerMinute, burst(rl.PerIPPerMinute, rl.BurstMultiplier)),
	}
	s.registerRoutes()
	return s
}

func burst(perMinute int, multiplier float64) int {
	if multiplier <= 1 {
		return perMinute
	}
	return int(float64(perMinute) * multiplier)
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(s.corsMiddleware())
	e.Use(s.authMiddleware())
	e.Use(s.rateLimitMiddleware())

	e.GET("/api/health", s.healthHandler)

	e.GET("/api/debates", s.listDebatesHandler)
	e.POST("/api/debates", s.startDebateHandler)
	e.GET("/api/debates/:ref", s.getDebateHandler)
	e.GET("/api/debates/:ref/events", s.debateEventsHandler)
	e.POST("/api/debates/:ref/cancel", s.cancelDebateHandler)

	e.GET("/api/leaderboard", s.leaderboardHandler)
	e.GET("/api/matches/recent", s.recentMatchesHandler)
	e.GET("/api/flips/recent", s.recentFlipsHandler)
	e.GET("/api/flips/summary", s.flipSummaryHandler)
	e.GET("/api/agent/:name/consistency", s.agentConsistencyHandler)

	e.GET("/metrics", s.metricsHandler)
	e.GET("/ws", s.wsHandler)
}

// Handler returns the root http.Handler with request metrics attached.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// The upgrade needs the raw ResponseWriter (Hijacker).
			s.echo.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.echo.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(
			r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

// Start serves HTTP on addr and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// statusRecorder captures the response status for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses a request path to its first two segments so metric
// cardinality stays bounded regardless of slugs and ids.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}
