package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/services"
)

// listDebatesHandler handles GET /api/debates.
func (s *Server) listDebatesHandler(c *echo.Context) error {
	status := models.DebateStatus(c.QueryParam("status"))
	if status != "" && !validStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+string(status))
	}

	debates, err := s.debates.List(c.Request().Context(), status, intQueryParam(c, "limit", 0))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"debates": debates})
}

// startDebateHandler handles POST /api/debates. The debate runs in the
// background; the caller follows progress over the WebSocket stream.
func (s *Server) startDebateHandler(c *echo.Context) error {
	var req services.StartDebateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is not valid JSON")
	}

	d, err := s.debates.Start(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, d)
}

// getDebateHandler handles GET /api/debates/:ref. The ref is a debate id
// (dbt_ prefix) or slug; the response carries the full transcript.
func (s *Server) getDebateHandler(c *echo.Context) error {
	ref := c.Param("ref")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "debate reference is required")
	}

	tr, err := s.debates.GetTranscript(c.Request().Context(), ref)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// debateEventsHandler handles GET /api/debates/:ref/events. Cursor catchup
// over the durable event log: ?after=<seq>&limit=N, oldest first.
func (s *Server) debateEventsHandler(c *echo.Context) error {
	ref := c.Param("ref")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "debate reference is required")
	}

	d, err := s.debates.Get(c.Request().Context(), ref)
	if err != nil {
		return mapServiceError(err)
	}

	after := int64(intQueryParam(c, "after", 0))
	evs, err := s.events.Catchup(c.Request().Context(), d.ID, after, intQueryParam(c, "limit", 0))
	if err != nil {
		return mapServiceError(err)
	}
	latest, err := s.events.LatestSeq(c.Request().Context(), d.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"debate_id":  d.ID,
		"after":      after,
		"latest_seq": latest,
		"events":     evs,
	})
}

// cancelDebateHandler handles POST /api/debates/:ref/cancel.
func (s *Server) cancelDebateHandler(c *echo.Context) error {
	ref := c.Param("ref")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "debate reference is required")
	}

	if err := s.debates.Cancel(c.Request().Context(), ref); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "canceling"})
}

func validStatus(st models.DebateStatus) bool {
	switch st {
	case models.DebateStatusCreated, models.DebateStatusRunning,
		models.DebateStatusVoting, models.DebateStatusSealing, models.DebateStatusComplete:
		return true
	}
	return false
}

func intQueryParam(c *echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
