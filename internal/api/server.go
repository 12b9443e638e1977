package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/db"
	"github.com/energizer-project/loginserver/internal/metrics"
	intnet "github.com/energizer-project/loginserver/internal/network"
	"github.com/energizer-project/loginserver/internal/player"
)

// ClientDirectory exposes the connected players.
type ClientDirectory interface {
	Players() []player.Snapshot
	Player(id uint32) (player.Snapshot, bool)
	StateCounts() map[string]int
	Count() int
	Kick(id uint32) error
}

// SessionHistory exposes recorded sessions.
type SessionHistory interface {
	Recent(ctx context.Context, limit int) ([]db.Session, error)
	Count(ctx context.Context) (total, open int64, err error)
}

// DumpStats exposes the diagnostic dump queue counters.
type DumpStats interface {
	Queued() uint64
	Dropped() uint64
}

// Deps are the runtime components the API reads from.
type Deps struct {
	Clients  ClientDirectory
	Sessions SessionHistory
	Dump     DumpStats
	Metrics  *metrics.Collector
	Version  string
}

// Server is the admin REST API of the login server.
type Server struct {
	cfg     *config.Config
	deps    Deps
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must be false with "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/clients", s.handleGetClients)
		monitor.GET("/clients/:id", s.handleGetClient)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/stats", s.handleGetStats)
	}

	control := router.Group("/api/control")
	{
		control.POST("/clients/:id/kick", s.handleKickClient)
		control.GET("/config", s.handleGetConfig)
		control.POST("/motd", s.handleSetMOTD)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "login server API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
