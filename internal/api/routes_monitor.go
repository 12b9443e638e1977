package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/loginserver/internal/util"
)

func parseClientID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) handleGetClients(c *gin.Context) {
	clients := s.deps.Clients.Players()
	c.JSON(http.StatusOK, gin.H{
		"clients":  clients,
		"total":    len(clients),
		"by_state": s.deps.Clients.StateCounts(),
	})
}

func (s *Server) handleGetClient(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}

	snap, found := s.deps.Clients.Player(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetSessions(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	sessions, err := s.deps.Sessions.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleGetStats(c *gin.Context) {
	stats := gin.H{
		"clients":  s.deps.Clients.Count(),
		"by_state": s.deps.Clients.StateCounts(),
	}

	if proc, err := util.GetProcessUsage(); err == nil {
		stats["process"] = proc
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		stats["memory"] = mem
	}
	if s.deps.Dump != nil {
		stats["dump"] = gin.H{
			"queued":  s.deps.Dump.Queued(),
			"dropped": s.deps.Dump.Dropped(),
		}
	}
	if s.deps.Sessions != nil {
		if total, open, err := s.deps.Sessions.Count(c.Request.Context()); err == nil {
			stats["sessions"] = gin.H{"total": total, "open": open}
		}
	}

	c.JSON(http.StatusOK, stats)
}
