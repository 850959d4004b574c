package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/db"
	intnet "github.com/energizer-project/stepgame/internal/network"
	"github.com/energizer-project/stepgame/internal/server"
)

// StateSource provides live dispatcher snapshots.
type StateSource interface {
	Snapshot(ctx context.Context) (server.Snapshot, error)
}

// HistorySource provides stored match history.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.MatchRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]db.Standing, error)
}

// Options configures the API server.
type Options struct {
	Config  config.APIConfig
	Version string
	Debug   bool
}

// Server is the read-only monitoring API.
type Server struct {
	opts       Options
	state      StateSource
	history    HistorySource
	spectators *SpectatorHub

	httpServer *http.Server
	router     *gin.Engine
	listener   net.Listener
	logger     zerolog.Logger
}

// NewServer creates the API server. history and spectators may be nil.
func NewServer(opts Options, state StateSource, history HistorySource, spectators *SpectatorHub) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		opts:       opts,
		state:      state,
		history:    history,
		spectators: spectators,
		logger:     log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the API socket.
func (s *Server) Listen(ctx context.Context) error {
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.opts.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Config.ListenAddr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves the API until ctx is cancelled. Listen is called when needed.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("monitoring API starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server and disconnects spectators.
func (s *Server) Stop() error {
	if s.spectators != nil {
		s.spectators.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.opts.Config.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.opts.Config.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/games", s.handleGames)
		monitor.GET("/games/:id", s.handleGame)
		monitor.GET("/matches", s.handleMatches)
		monitor.GET("/leaderboard", s.handleLeaderboard)
		monitor.GET("/system", s.handleSystem)
	}

	if s.spectators != nil {
		router.GET("/api/spectate", s.spectators.Handle)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "stepgame monitoring API, see /api/status"})
	})

	return router
}
