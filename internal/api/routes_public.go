package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/loginserver/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "loginserver",
		"version": s.deps.Version,
	})
}

func (s *Server) handleGetServerInfo(c *gin.Context) {
	info := s.cfg.GetServerInfo()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"description":     info.Description,
		"motd":            info.MOTD,
		"listen_addr":     s.cfg.ListenAddr(),
		"clients":         s.deps.Clients.Count(),
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
