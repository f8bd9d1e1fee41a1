package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/notify"
	"example.com/orderintake/internal/reaper"
	"example.com/orderintake/internal/repositories"
	"example.com/orderintake/internal/scheduling"
	"example.com/orderintake/internal/services"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that expires idle carts and notifies businesses of abandonments`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	var sink notify.Sink = notify.NopSink{}
	if cfg.ServiceBus.ConnectionString != "" {
		sink, err = notify.NewServiceBusSink(cfg.ServiceBus)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize notification sink, continuing without notifications")
			sink = notify.NopSink{}
		}
	}
	defer sink.Close()

	orderRepo := repositories.NewOrderRepository(db, readOnlyDB)
	catalogRepo := repositories.NewCatalogRepository(readOnlyDB)
	validator := scheduling.NewValidator(catalogRepo, orderRepo, cfg.Orders.LastOrderLeadMinutes)
	lifecycleService := services.NewLifecycleService(orderRepo, catalogRepo, validator)

	sweeper := reaper.NewReaper(orderRepo, lifecycleService, sink, cfg.Reaper)

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
