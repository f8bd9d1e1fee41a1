package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/models"
)

var rootCmd = &cobra.Command{
	Use:   "orderintake",
	Short: "Multi-tenant conversational order intake service",
	Long:  `Order intake platform that turns customer conversations into carts, bookings and confirmed orders`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initDatabases opens the write and read-only connections, runs migrations
// on the write side and applies the configured pool limits.
func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	for _, gdb := range []*gorm.DB{db, readOnlyDB} {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get underlying DB connection")
		}
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
		if cfg.DB.ConnMaxLifetime == 0 {
			sqlDB.SetConnMaxLifetime(time.Hour)
		}
	}

	return db, readOnlyDB, nil
}
