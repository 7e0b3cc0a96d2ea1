package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// leaderboardHandler handles GET /api/leaderboard.
func (s *Server) leaderboardHandler(c *echo.Context) error {
	ratings, err := s.rankings.Leaderboard(c.Request().Context(),
		c.QueryParam("domain"), intQueryParam(c, "limit", 0))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"leaderboard": ratings})
}

// recentMatchesHandler handles GET /api/matches/recent.
func (s *Server) recentMatchesHandler(c *echo.Context) error {
	matches, err := s.rankings.RecentMatches(c.Request().Context(), intQueryParam(c, "limit", 0))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}

// recentFlipsHandler handles GET /api/flips/recent.
func (s *Server) recentFlipsHandler(c *echo.Context) error {
	flips, err := s.rankings.RecentFlips(c.Request().Context(),
		c.QueryParam("agent"), intQueryParam(c, "limit", 0))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"flips": flips})
}

// flipSummaryHandler handles GET /api/flips/summary.
func (s *Server) flipSummaryHandler(c *echo.Context) error {
	summary, err := s.rankings.FlipSummary(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"summary": summary})
}

// agentConsistencyHandler handles GET /api/agent/:name/consistency.
func (s *Server) agentConsistencyHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent name is required")
	}

	profile, err := s.rankings.AgentProfile(c.Request().Context(), name, c.QueryParam("domain"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, profile)
}
