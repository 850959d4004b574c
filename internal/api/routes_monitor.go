package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/stepgame/internal/server"
	"github.com/energizer-project/stepgame/internal/util"
)

const maxListLimit = 200

// snapshot fetches the dispatcher state, writing a 503 on failure.
func (s *Server) snapshot(c *gin.Context) (server.Snapshot, bool) {
	snap, err := s.state.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher unavailable: " + err.Error()})
		return server.Snapshot{}, false
	}
	return snap, true
}

// handleStatus returns counters for the running server.
func (s *Server) handleStatus(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}

	spectators := 0
	if s.spectators != nil {
		spectators = s.spectators.Count()
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":       len(snap.Sessions),
		"capacity":       snap.Capacity,
		"phases":         snap.Phases,
		"waiting":        len(snap.Waiting),
		"games":          len(snap.Games),
		"queued_frames":  snap.QueuedFrames,
		"dropped_frames": snap.DroppedFrames,
		"pending_sends":  snap.PendingSends,
		"spectators":     spectators,
		"rules":          snap.Rules,
		"started_at":     snap.StartedAt,
		"uptime_seconds": int64(time.Since(snap.StartedAt).Seconds()),
	})
}

// handleSessions returns every connected session.
func (s *Server) handleSessions(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": snap.Sessions,
		"waiting":  snap.Waiting,
		"total":    len(snap.Sessions),
	})
}

// handleGames returns every active game.
func (s *Server) handleGames(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"games": snap.Games,
		"total": len(snap.Games),
	})
}

// handleGame returns one active game by id.
func (s *Server) handleGame(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	id := c.Param("id")
	for _, g := range snap.Games {
		if g.ID == id {
			c.JSON(http.StatusOK, g)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
}

// handleMatches returns recently stored matches.
func (s *Server) handleMatches(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is disabled"})
		return
	}
	limit, ok := parseLimit(c, 20)
	if !ok {
		return
	}

	matches, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"total":   len(matches),
	})
}

// handleLeaderboard returns players ranked by stored round results.
func (s *Server) handleLeaderboard(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is disabled"})
		return
	}
	limit, ok := parseLimit(c, 10)
	if !ok {
		return
	}

	standings, err := s.history.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": standings})
}

// handleSystem returns host information and current resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	usage, err := util.GetResourceUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"usage":  usage,
	})
}

// parseLimit reads the limit query parameter, writing a 400 when it is not a
// positive integer.
func parseLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
