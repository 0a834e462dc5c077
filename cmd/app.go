package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/auth"
	authPostgres "github.com/frahmantamala/qrpay/internal/auth/postgres"
	"github.com/frahmantamala/qrpay/internal/core/events"
	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/monitor"
	"github.com/frahmantamala/qrpay/internal/notify"
	notifyPostgres "github.com/frahmantamala/qrpay/internal/notify/postgres"
	"github.com/frahmantamala/qrpay/internal/order"
	orderPostgres "github.com/frahmantamala/qrpay/internal/order/postgres"
	"github.com/frahmantamala/qrpay/internal/qrcode"
	qrcodePostgres "github.com/frahmantamala/qrpay/internal/qrcode/postgres"
	"github.com/frahmantamala/qrpay/internal/setting"
	settingPostgres "github.com/frahmantamala/qrpay/internal/setting/postgres"
	"github.com/frahmantamala/qrpay/internal/slot"
	"github.com/frahmantamala/qrpay/internal/sweeper"
	"github.com/frahmantamala/qrpay/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// App holds every long-lived collaborator of a qrpay process.
type App struct {
	Config *internal.Config
	Logger *slog.Logger

	SQL  *sqlx.DB
	Gorm *gorm.DB

	Metrics    *metrics.Metrics
	Bus        *events.EventBus
	Forwarder  *events.KafkaForwarder
	Settings   *setting.Store
	QRCodes    *qrcode.Service
	Logs       *notifyPostgres.LogRepository
	Orders     *order.Store
	Dispatcher *notify.Dispatcher
	Sweeper    *sweeper.Sweeper
	Service    *order.Service
	Gateway    *monitor.Gateway
	Auth       *auth.Service
}

func newApp(cfg *internal.Config) (*App, error) {
	log := logger.Setup(logger.Options{
		Env:    os.Getenv("APP_ENV"),
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})

	sqlDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := initGorm(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	ids, err := order.NewIDGenerator()
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	m := metrics.New()
	bus := events.NewEventBus(log)

	var forwarder *events.KafkaForwarder
	if cfg.Kafka.Enabled {
		forwarder = events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), log)
		forwarder.Attach(bus)
		log.Info("settlement events forwarded to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	settings := setting.NewStore(settingPostgres.NewSettingRepository(gormDB), log)
	qrcodes := qrcode.NewService(qrcodePostgres.NewQRCodeRepository(gormDB), log)
	logs := notifyPostgres.NewLogRepository(gormDB)

	orders := order.NewStore(
		orderPostgres.NewOrderRepository(gormDB, slot.NewAllocator(gormDB, log)),
		bus, m, log,
	)

	dispatcher := notify.NewDispatcher(notify.Config{
		Timeout:     cfg.Notify.Timeout,
		MaxInFlight: cfg.Notify.MaxInFlight,
		UserAgent:   cfg.Notify.UserAgent,
	}, orders, logs, m, log)

	sweep := sweeper.New(orders, settings, m, cfg.Sweeper.MonitorTimeout, log)

	frontendURL := cfg.FrontendURL
	if frontendURL == "" {
		frontendURL = cfg.Server.BaseURL
	}

	service := order.NewService(orders, order.Dependencies{
		Settings: settings,
		QRCodes:  qrcodes,
		Notifier: dispatcher,
		Sweeper:  sweep,
		Stats:    orderPostgres.NewStatsRepository(sqlDB),
		IDs:      ids,
		Metrics:  m,
	}, order.Config{
		MaxAttempts: cfg.Slot.MaxAttempts,
		FrontendURL: frontendURL,
		Retention:   cfg.Sweeper.Retention,
	}, log)

	gateway := monitor.NewGateway(orders, settings, dispatcher, sweep, ids, m, log)

	authService := auth.NewService(
		authPostgres.NewAdminRepository(gormDB),
		auth.NewJWTTokenGenerator(
			cfg.Security.AccessTokenSecret,
			cfg.Security.RefreshTokenSecret,
			cfg.Security.AccessTokenDuration,
			cfg.Security.RefreshTokenDuration,
		),
		cfg.Security.BCryptCost,
		log,
	)

	return &App{
		Config:     cfg,
		Logger:     log,
		SQL:        sqlDB,
		Gorm:       gormDB,
		Metrics:    m,
		Bus:        bus,
		Forwarder:  forwarder,
		Settings:   settings,
		QRCodes:    qrcodes,
		Logs:       logs,
		Orders:     orders,
		Dispatcher: dispatcher,
		Sweeper:    sweep,
		Service:    service,
		Gateway:    gateway,
		Auth:       authService,
	}, nil
}

// Close drains event handlers and releases external connections.
func (a *App) Close() {
	a.Bus.Wait()
	if a.Forwarder != nil {
		if err := a.Forwarder.Close(); err != nil {
			a.Logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
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

// initGorm shares the sqlx pool with gorm so both see one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
}
