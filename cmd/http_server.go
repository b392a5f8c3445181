package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/core/events"
	"github.com/idanlevi/captionflow/internal/hypay"
	"github.com/idanlevi/captionflow/internal/idempotency"
	idempotencyPostgres "github.com/idanlevi/captionflow/internal/idempotency/postgres"
	"github.com/idanlevi/captionflow/internal/idempotency/redisstore"
	"github.com/idanlevi/captionflow/internal/observability"
	"github.com/idanlevi/captionflow/internal/payment"
	paymentPostgres "github.com/idanlevi/captionflow/internal/payment/postgres"
	"github.com/idanlevi/captionflow/internal/transport"
	"github.com/idanlevi/captionflow/internal/transport/rest"
	"github.com/idanlevi/captionflow/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle checkout and gateway callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config          *internal.Config
	DB              *sqlx.DB
	Router          *chi.Mux
	Logger          *slog.Logger
	Metrics         *observability.Metrics
	CheckoutHandler *payment.CheckoutHandler
	CallbackHandler *payment.CallbackHandler
	AdminHandler    *payment.AdminHandler
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) {
	metricsPath := ""
	if deps.Config.Observability.Metrics.Enabled {
		metricsPath = deps.Config.Observability.Metrics.Path
	}
	rest.RegisterAllRoutes(
		deps.Router,
		deps.DB.DB,
		deps.CheckoutHandler,
		deps.CallbackHandler,
		deps.AdminHandler,
		deps.Metrics,
		metricsPath,
		deps.Logger,
	)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Format, config.Observability.Logging.Level)
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	metrics := observability.NewMetrics()
	eventBus := events.NewEventBus(appLogger)
	registerAuditSubscribers(eventBus, appLogger)

	gateway := hypay.NewClient(hypay.Config{
		TerminalID: config.Hypay.TerminalID,
		APIKey:     config.Hypay.APIKey,
		Passphrase: config.Hypay.Passphrase,
		BaseURL:    config.Hypay.BaseURL,
		Timeout:    config.Hypay.VerifyTimeout,
	}, appLogger)

	idemStore, err := buildIdempotencyStore(config.Idempotency, gormDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	idemRunner := idempotency.NewRunner(idemStore, idempotency.Config{
		TTL:          config.Idempotency.TTL,
		WaitInterval: config.Idempotency.WaitInterval,
		WaitTimeout:  config.Idempotency.WaitTimeout,
	}, appLogger)

	paymentRepo := paymentPostgres.NewPaymentRepository(gormDB)
	paymentService := payment.NewService(
		paymentRepo,
		gateway,
		idemRunner,
		idemStore,
		eventBus,
		metrics,
		appLogger,
		config.Hypay.Passphrase,
		config.Idempotency.PendingStall,
	)

	baseHandler := transport.NewBaseHandler(appLogger)

	return &Dependencies{
		Config:          config,
		DB:              db,
		Router:          chi.NewRouter(),
		Logger:          appLogger,
		Metrics:         metrics,
		CheckoutHandler: payment.NewCheckoutHandler(baseHandler, paymentService),
		CallbackHandler: payment.NewCallbackHandler(baseHandler, paymentService, metrics,
			config.Hypay.SuccessPageURL, config.Hypay.FailurePageURL),
		AdminHandler: payment.NewAdminHandler(baseHandler, paymentService, config.Admin.CleanupToken),
	}, nil
}

func buildIdempotencyStore(cfg internal.IdempotencyConfig, gormDB *gorm.DB) (idempotency.Store, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return redisstore.NewStore(client, "captionflow:idem"), nil
	case "", "postgres":
		return idempotencyPostgres.NewStore(gormDB), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

// registerAuditSubscribers keeps a structured-log audit trail of settlement
// outcomes independent of request logs.
func registerAuditSubscribers(bus *events.EventBus, appLogger *slog.Logger) {
	audit := func(ctx context.Context, event events.Event) error {
		appLogger.Info("payment event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"order_id", internal.OrderIDFromContext(ctx),
			"payload", event.Payload())
		return nil
	}
	bus.Subscribe(events.EventTypePaymentSucceeded, audit)
	bus.Subscribe(events.EventTypePaymentFailed, audit)
}

func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
