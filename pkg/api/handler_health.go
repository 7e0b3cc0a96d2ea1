package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aragora/aragora/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is the GET /api/health body. Component booleans only; no
// internals leak through an unauthenticated endpoint.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	Commit        string          `json:"commit"`
	Components    map[string]bool `json:"components"`
	ActiveDebates int             `json:"active_debates"`
	WSConnections int             `json:"ws_connections"`
}

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	storageOK := s.store.Health(reqCtx) == nil
	status := healthStatusHealthy
	httpStatus := http.StatusOK
	if !storageOK {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Semver,
		Commit:  version.GitCommit,
		Components: map[string]bool{
			"storage":   storageOK,
			"auth":      s.auth.Enabled(),
			"websocket": s.hub != nil,
		},
		ActiveDebates: s.debates.ActiveCount(),
		WSConnections: s.hub.ActiveConnections(),
	})
}
