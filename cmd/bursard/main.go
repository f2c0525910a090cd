package main

import (
	"context"
	"strings"
	"time"

	"github.com/levantcash/bursar/internal/handlers"
	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/internal/notify"
	"github.com/levantcash/bursar/internal/sms"
	"github.com/levantcash/bursar/pkg/auth"
	"github.com/levantcash/bursar/pkg/config"
	"github.com/levantcash/bursar/pkg/database"
	"github.com/levantcash/bursar/pkg/kafka"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/monitoring"
	"github.com/levantcash/bursar/pkg/redis"
	"github.com/levantcash/bursar/pkg/server"
	"github.com/levantcash/bursar/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("bursard")

	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Reconciliation API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	limits := config.LoadLimits()

	// Connect to database and apply schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Optional cache; the service runs without it
	cache, err := redis.NewCache(context.Background(), config.GetEnv("REDIS_URL", ""), 10*time.Minute)
	if err != nil {
		logger.WithError(err).Fatal("Redis connection failed")
	}
	if cache.Enabled() {
		defer cache.Close()
	}

	// Optional Kafka event stream
	var producer *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		topic := config.GetEnv("LEDGER_KAFKA_TOPIC", "bursar.ledger_events")
		producer, err = kafka.NewProducer(strings.Split(brokers, ","), "bursard", topic, logger)
		if err != nil {
			logger.WithError(err).Fatal("Kafka producer setup failed")
		}
		defer producer.Close()
	}

	// Optional Telegram notifier
	var notifier ledger.Notifier
	if botToken := config.GetEnv("BOT_TOKEN", ""); botToken != "" {
		auditChannelID := int64(config.GetEnvInt("AUDIT_CHANNEL_ID", 0))
		notifier, err = notify.New(botToken, auditChannelID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Telegram notifier setup failed")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursard", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursard", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("cache", monitoring.CacheHealthCheck(cache))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbURL,
		"JWT_SECRET":    jwtSecret,
		"SERVICE_TOKEN": serviceToken,
	}))

	metrics := handlers.NewBursarMetrics(metricsCollector)

	// Wire the reconciliation engine
	balances := ledger.NewBalanceStore(db, cache, logger)
	txLedger := ledger.NewTransactionLedger(db, logger)
	codes := ledger.NewCodeAllocator(db, cache, logger)
	coordinator := ledger.NewCoordinator(ledger.CoordinatorDeps{
		DB:          db,
		Balances:    balances,
		Ledger:      txLedger,
		Codes:       codes,
		Notifier:    notifier,
		Producer:    producer,
		Limits:      limits,
		CodeMethods: strings.Split(config.GetEnv("CODE_PAYMENT_METHODS", "syriatel_cash"), ","),
	}, logger)
	verifier := sms.NewVerifier(txLedger, coordinator, logger)

	handlers.Init(db, logger, metrics, balances, txLedger, codes, coordinator, verifier)

	// Background jobs: midnight code reset, capacity sweep
	jobManager := handlers.NewJobManager(codes, notifier, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursard", healthChecker, metricsCollector)

	{
		// Submission endpoints (service-to-service, called by the bot
		// frontend)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/charges", handlers.SubmitCharge)
			serviceAPI.POST("/withdrawals", handlers.SubmitWithdraw)
			serviceAPI.GET("/capacity", handlers.CheckDepositCapacity)
			serviceAPI.GET("/users/:id", handlers.GetUser)
			serviceAPI.GET("/users/:id/transactions", handlers.ListUserTransactions)
		}

		// SMS forwarding agent webhook
		webhooks := router.Group("")
		webhooks.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			webhooks.POST("/webhooks/sms", handlers.HandleSMSWebhook)
		}

		// Operator endpoints
		admin := router.Group("/admin")
		admin.Use(auth.JWTAuthMiddleware([]byte(jwtSecret), "admin"))
		{
			admin.GET("/transactions", handlers.ListPendingTransactions)
			admin.GET("/transactions/export", handlers.ExportTransactionsCSV)
			admin.GET("/transactions/stats", handlers.GetDailyStats)
			admin.GET("/transactions/:id", handlers.GetTransaction)
			admin.POST("/transactions/:id/approve", handlers.ApproveTransaction)
			admin.POST("/transactions/:id/reject", handlers.RejectTransaction)
			admin.POST("/transactions/:id/deliver", handlers.DeliverTransaction)

			admin.GET("/codes", handlers.ListCodes)
			admin.POST("/codes", handlers.AddCode)
			admin.POST("/codes/reset", handlers.ResetCodes)
			admin.PUT("/codes/:id/active", handlers.SetCodeActive)
			admin.POST("/codes/:id/release", handlers.ReleaseCodeCapacity)
			admin.DELETE("/codes/:id", handlers.RemoveCode)

			admin.POST("/users/:id/balance", handlers.AdjustUserBalance)
			admin.PUT("/users/:id/banned", handlers.SetUserBanned)
		}
	}

	serverConfig := server.DefaultConfig("bursard", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
