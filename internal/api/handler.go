// Package api exposes backtest runs over HTTP: launch a run, query its
// status and results, browse the run archive, and stream live progress over
// a websocket.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"backtest-core/internal/events"
	"backtest-core/pkg/db"
)

// Server wires HTTP endpoints around the runner and the run archive.
type Server struct {
	Router    *gin.Engine
	Runner    *Runner
	Bus       *events.Bus
	DB        *db.Database
	JWTSecret string
	APIKey    string
}

// NewServer assembles the router with the full middleware stack.
func NewServer(runner *Runner, bus *events.Bus, database *db.Database, jwtSecret, apiKey string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Runner:    runner,
		Bus:       bus,
		DB:        database,
		JWTSecret: jwtSecret,
		APIKey:    apiKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/backtests", s.createBacktest)
			protected.GET("/backtests", s.listBacktests)
			protected.GET("/backtests/:id", s.getBacktest)
			protected.GET("/backtests/:id/trades", s.getBacktestTrades)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
