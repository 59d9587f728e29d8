package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/util"
)

// handlePing returns a liveness response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rampart",
		"version": s.deps.Version,
	})
}

// handleStatus returns the service status with host information.
func (s *Server) handleStatus(c *gin.Context) {
	body := gin.H{
		"version": s.deps.Version,
		"service": s.deps.Status.Status(),
		"system":  util.GetSystemInfo(),
	}
	if s.deps.Health != nil {
		body["healthy"] = s.deps.Health.Healthy()
		body["checks"] = s.deps.Health.Checks()
	}
	c.JSON(http.StatusOK, body)
}

// handlePlayers returns the connected players.
func (s *Server) handlePlayers(c *gin.Context) {
	list := s.deps.Status.Status().Players
	c.JSON(http.StatusOK, playersResponse{Count: len(list), Players: list})
}

// handleSounds lists one owner's clips.
func (s *Server) handleSounds(c *gin.Context) {
	guid := c.Param("guid")
	entries, err := s.deps.Catalog.List(guid)
	if err != nil {
		if errors.Is(err, sound.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": sound.Reason(err)})
			return
		}
		s.logger.Warn().Err(err).Str("guid", guid).Msg("failed to list clips")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sounds"})
		return
	}
	if entries == nil {
		entries = []sound.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"guid":   guid,
		"count":  len(entries),
		"sounds": entries,
	})
}

// handleHealth returns the latest health checks, 503 when any is failing.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "checks": []interface{}{}})
		return
	}
	status := http.StatusOK
	healthy := s.deps.Health.Healthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": s.deps.Health.Checks()})
}

// handleOverrides lists the command overrides of a GUID.
func (s *Server) handleOverrides(c *gin.Context) {
	if s.deps.Overrides == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "query store disabled"})
		return
	}
	guid := protocol.NormalizeGUID(c.Param("guid"))
	list, err := s.deps.Overrides.CommandOverrides(c.Request.Context(), guid)
	if err != nil {
		s.logger.Warn().Err(err).Str("guid", guid).Msg("failed to list overrides")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "query store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guid": guid, "overrides": list})
}
