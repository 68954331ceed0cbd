package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/poolmgr/internal/auth"
	"github.com/opensandbox/poolmgr/internal/metrics"
	"github.com/opensandbox/poolmgr/pkg/types"
)

// Pool is the pool manager surface exposed to the dispatcher.
type Pool interface {
	ScaleOut(ctx context.Context, n int) (int, error)
	ScaleIn(ctx context.Context, n int) (int, error)
	Submit(ctx context.Context, command string, blocksize float64, label string) (string, error)
	Cancel(ctx context.Context, ids []string) ([]bool, error)
	Status(ctx context.Context, ids []string) ([]types.Status, error)
	Teardown(ctx context.Context) error
	Summary(ctx context.Context) (types.PoolSummary, error)
	CurrentBlocksize() int
}

// Server holds the API server dependencies.
type Server struct {
	echo *echo.Echo

	// mu serializes pool calls; the pool manager is single-threaded.
	mu   sync.Mutex
	pool Pool
}

// NewServer creates a new API server with all routes configured.
func NewServer(p Pool, apiKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		pool: p,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger())
	e.Use(metrics.EchoMiddleware())

	// Health and metrics (no auth)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Pool routes (with auth)
	api := e.Group("")
	api.Use(auth.APIKeyMiddleware(apiKey))

	api.POST("/scale-out", s.scaleOut)
	api.POST("/scale-in", s.scaleIn)
	api.POST("/submit", s.submit)
	api.POST("/cancel", s.cancel)
	api.POST("/status", s.status)
	api.GET("/summary", s.summary)
	api.POST("/teardown", s.teardown)

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
