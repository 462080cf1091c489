package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus aggregates engine, fleet, and safety state into one view.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{}

	if s.deps.Controller != nil {
		resp["engine"] = s.deps.Controller.State()
	}
	if s.deps.Fleet != nil {
		statuses := s.deps.Fleet.StatusSummary()
		resp["bots"] = statuses
		resp["bot_count"] = len(statuses)
	}
	if s.deps.Safety != nil {
		resp["safety"] = gin.H{
			"circuit_state":        s.deps.Safety.CircuitState(),
			"rate_limit_in_flight": s.deps.Safety.RateLimitInFlight(),
		}
	}
	if s.deps.Positions != nil {
		open, err := s.deps.Positions.GetOpen(c.Request.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list open positions for status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "position ledger unavailable"})
			return
		}
		resp["open_positions"] = len(open)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "position ledger not configured"})
		return
	}
	open, err := s.deps.Positions.GetOpen(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list open positions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "position ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": open, "count": len(open)})
}

func (s *Server) handleDeployments(c *gin.Context) {
	if s.deps.Deployments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "deployment protocol not configured"})
		return
	}
	deployments, err := s.deps.Deployments.ListDeployments(c.Request.Context(), 20)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list deployments")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deployment store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": deployments, "count": len(deployments)})
}

func (s *Server) handlePause(c *gin.Context) {
	if s.deps.Controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not attached"})
		return
	}
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual pause via API"
	}

	s.deps.Controller.Pause(req.Reason)
	c.JSON(http.StatusOK, gin.H{"state": s.deps.Controller.State()})
}

func (s *Server) handleResume(c *gin.Context) {
	if s.deps.Controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not attached"})
		return
	}
	s.deps.Controller.Resume()
	c.JSON(http.StatusOK, gin.H{"state": s.deps.Controller.State()})
}
