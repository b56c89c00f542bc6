package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/events"
	"github.com/cardvault/storefront/internal/inventory"
	inventoryPostgres "github.com/cardvault/storefront/internal/inventory/postgres"
	"github.com/cardvault/storefront/internal/notification"
	"github.com/cardvault/storefront/internal/order"
	orderPostgres "github.com/cardvault/storefront/internal/order/postgres"
	"github.com/cardvault/storefront/internal/paymentgateway"
	"github.com/cardvault/storefront/internal/pricing"
	pricingPostgres "github.com/cardvault/storefront/internal/pricing/postgres"
	"github.com/cardvault/storefront/internal/reconciliation"
	reconciliationPostgres "github.com/cardvault/storefront/internal/reconciliation/postgres"
	"github.com/cardvault/storefront/pkg/logger"
)

// Pipeline holds the wired reconciliation components shared by the server
// and the operator commands.
type Pipeline struct {
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Bus        *events.EventBus
	Forwarder  *notification.Forwarder
	Ledger     *inventory.Ledger
	Pricing    *pricing.Service
	Orders     *order.Writer
	Records    reconciliation.RecordRepositoryAPI
	Audit      *reconciliation.AuditLog
	Reconciler *reconciliation.Reconciler
	Report     *reconciliation.Report
}

// Close drains pending events before releasing connections.
func (p *Pipeline) Close() {
	p.Bus.Close()
	if p.Forwarder != nil {
		if err := p.Forwarder.Close(); err != nil {
			slog.Error("kafka producer close error", "error", err)
		}
	}
	if err := p.DB.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}
}

func buildPipeline(cfg *internal.Config, lg *slog.Logger) (*Pipeline, error) {
	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db, lg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	bus := events.NewEventBus(lg)

	var forwarder *notification.Forwarder
	if cfg.Kafka.Enabled {
		producer, err := notification.NewProducer(cfg.Kafka)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		forwarder = notification.NewForwarder(producer, cfg.Kafka.Topic, lg)
		forwarder.RegisterEventHandlers(bus)
		lg.Info("kafka forwarding enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	ledger := inventory.NewLedger(inventoryPostgres.NewInventoryRepository(gdb), lg)
	pricingService := pricing.NewService(pricingPostgres.NewParameterRepository(gdb), cfg.Pricing, lg)
	writer := order.NewWriter(orderPostgres.NewOrderRepository(gdb), lg)
	records := reconciliationPostgres.NewRecordRepository(gdb)
	audit := reconciliation.NewAuditLog(reconciliationPostgres.NewAuditRepository(gdb), lg)

	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		AccessToken:    cfg.Gateway.AccessToken,
		LookupTimeout:  cfg.Gateway.LookupTimeout,
		MaxRetries:     cfg.Gateway.MaxRetries,
		InitialBackoff: cfg.Gateway.InitialBackoff,
		MaxBackoff:     cfg.Gateway.MaxBackoff,
	}, lg)

	reconciler := reconciliation.NewReconciler(reconciliation.Dependencies{
		Verifier: reconciliation.NewVerifier(gateway, cfg.Gateway.CollectorID, lg),
		Guard:    reconciliation.NewGuard(records, lg),
		Ledger:   ledger,
		Orders:   writer,
		Pricer:   pricingService,
		Audit:    audit,
		Events:   bus,
		Logger:   lg,
	})

	return &Pipeline{
		DB:         db,
		Gorm:       gdb,
		Bus:        bus,
		Forwarder:  forwarder,
		Ledger:     ledger,
		Pricing:    pricingService,
		Orders:     writer,
		Records:    records,
		Audit:      audit,
		Reconciler: reconciler,
		Report:     reconciliation.NewReport(db),
	}, nil
}

// initDB opens the pgx-backed pool shared by sqlx and gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func initGorm(db *sqlx.DB, lg *slog.Logger) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(slog.NewLogLogger(lg.Handler(), slog.LevelWarn), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
}

// setupLogger installs the configured default logger and returns it.
func setupLogger(cfg *internal.Config) *slog.Logger {
	logger.Configure(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	return logger.LoggerWrapper()
}
