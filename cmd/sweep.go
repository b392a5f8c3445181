package cmd

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/idanlevi/captionflow/pkg/logger"
)

// sweepCmd is the cron-friendly twin of the admin cleanup endpoint: one shot,
// prints the count, exits.
var sweepCmd = &cobra.Command{
	RunE:  runSweep,
	Use:   "sweep",
	Short: "delete expired idempotency records and exit",
}

func runSweep(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}

	logger.Init(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	appLogger := logger.LoggerWrapper()

	// the database connection is only needed when the configured backend
	// lives there
	var gormDB *gorm.DB
	if cfg.Idempotency.Backend != "redis" {
		db, err := sqlx.Connect("pgx", cfg.Database.Source)
		if err != nil {
			return fmt.Errorf("failed to open db connection: %w", err)
		}
		defer db.Close()

		gormDB, err = gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("failed to initialize gorm: %w", err)
		}
	}

	store, err := buildIdempotencyStore(cfg.Idempotency, gormDB)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := store.CleanupExpired(ctx, cfg.Idempotency.PendingStall)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	appLogger.Info("idempotency sweep completed", "deleted", deleted)
	return nil
}
