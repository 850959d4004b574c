package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "stepgame",
		"version": s.opts.Version,
	})
}

// handleVersion returns the server version.
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    s.opts.Version,
		"name":       "stepgame",
		"spectators": s.spectators != nil,
	})
}
