package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fadmin-project/fadmin/internal/bridge"
	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/util"
)

// handleLiveness returns 200 while the process is up.
func (s *Server) handleLiveness(c *gin.Context) {
	c.String(http.StatusOK, "ok\n")
}

// handleReadiness returns 200 while the RCON session is connected and
// 503 otherwise.
func (s *Server) handleReadiness(c *gin.Context) {
	if s.session.State() == rcon.StateConnected {
		c.String(http.StatusOK, "ok\n")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready\n")
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fadmin",
	})
}

// handleStatus reports the session state and, when a pidfile is
// configured, the game server process.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"state":          s.session.State().String(),
		"server_version": s.session.Version(),
		"started_at":     s.started.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"host":           s.system,
	}

	if s.cfg.PidFile != "" {
		proc, err := util.GetProcessInfo(s.cfg.PidFile)
		if err != nil {
			resp["process_error"] = err.Error()
		} else {
			resp["process"] = proc
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handlePlayers lists the players currently online.
func (s *Server) handlePlayers(c *gin.Context) {
	if s.session.State() != rcon.StateConnected {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "game server is not connected"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ScrapeTimeout)
	defer cancel()

	body, err := s.session.Send(ctx, bridge.PlayersCommand)
	if err != nil {
		errutil.LogWarn(s.logger, "player lookup failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "player lookup failed"})
		return
	}

	players, err := bridge.ParsePlayers(body)
	if err != nil {
		errutil.LogWarn(s.logger, "unreadable player list", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "unreadable player list"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(players),
		"players": players,
	})
}
