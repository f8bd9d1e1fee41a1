package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/api/handlers"
	"example.com/orderintake/internal/orchestrator"
	"example.com/orderintake/internal/services"
	"example.com/orderintake/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	orch *orchestrator.Orchestrator,
	lifecycle *services.LifecycleService,
	orders handlers.OrderReader,
	tracer tracing.Tracer,
) *Server {
	server := &Server{config: cfg}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	messageHandler := handlers.NewMessageHandler(orch, tracer)
	messageHandler.RegisterRoutes(router)

	orderHandler := handlers.NewOrderHandler(lifecycle, orders)
	orderHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server.router = router
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}

	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	return nil
}
