package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/api"
	"example.com/orderintake/internal/history"
	"example.com/orderintake/internal/orchestrator"
	"example.com/orderintake/internal/reasoning"
	"example.com/orderintake/internal/repositories"
	"example.com/orderintake/internal/scheduling"
	"example.com/orderintake/internal/services"
	"example.com/orderintake/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that receives inbound customer messages and serves order state`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	conversationLog, err := history.NewStore(cfg.Redis, cfg.Orders.HistoryRetention)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize conversation history store, continuing without history")
		conversationLog, _ = history.NewStore(config.RedisConfig{Enabled: false}, cfg.Orders.HistoryRetention)
	}
	defer conversationLog.Close()

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer, _ = tracing.NewTracer(config.TracingConfig{})
	}

	engine, err := reasoning.NewHTTPEngine(cfg.Engine)
	if err != nil {
		return err
	}

	orderRepo := repositories.NewOrderRepository(db, readOnlyDB)
	catalogRepo := repositories.NewCatalogRepository(readOnlyDB)
	validator := scheduling.NewValidator(catalogRepo, orderRepo, cfg.Orders.LastOrderLeadMinutes)
	cartService := services.NewCartService(orderRepo, catalogRepo, validator)
	lifecycleService := services.NewLifecycleService(orderRepo, catalogRepo, validator)

	orch := orchestrator.NewOrchestrator(
		cartService, lifecycleService, catalogRepo,
		engine, conversationLog, tracer,
		cfg.Engine, cfg.Orders,
	)

	server := api.NewServer(cfg, orch, lifecycleService, orderRepo, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
