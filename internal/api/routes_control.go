package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	intnet "github.com/energizer-project/loginserver/internal/network"
)

func (s *Server) handleKickClient(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}

	if err := s.deps.Clients.Kick(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, intnet.ErrUnknownClient) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Info().Uint32("client_id", id).Str("client_ip", c.ClientIP()).Msg("API: client kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "client_id": id})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"listener":    s.cfg.Listener,
		"server_info": s.cfg.GetServerInfo(),
		"protocol":    s.cfg.Protocol,
		"dump":        s.cfg.Dump,
		"api":         s.cfg.API,
		"logging":     s.cfg.Logging,
	})
}

type motdRequest struct {
	MOTD string `json:"motd" binding:"required,max=1024"`
}

func (s *Server) handleSetMOTD(c *gin.Context) {
	var req motdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetMOTD(req.MOTD)
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	log.Info().Str("client_ip", c.ClientIP()).Msg("API: MOTD updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"motd":   req.MOTD,
	})
}
