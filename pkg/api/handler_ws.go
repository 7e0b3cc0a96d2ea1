package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/aragora/aragora/pkg/metrics"
)

// wsHandler upgrades GET /ws and delegates to the Hub. With auth enabled the
// token comes from the Authorization header or ?token=, since browser
// WebSocket clients cannot set headers. Origins outside the allow-list are
// rejected by the handshake; an empty list means same-origin only.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.auth.Enabled() {
		if _, err := s.auth.Verify(bearerToken(c.Request())); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request().Context(), conn)
	return nil
}
