package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-fulfillment/internal/analytics"
	analytics_api "ms-fulfillment/internal/analytics/api"
	"ms-fulfillment/internal/auth"
	"ms-fulfillment/internal/catalog"
	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/database/migrations"
	"ms-fulfillment/internal/inventory"
	"ms-fulfillment/internal/kafka"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/order"
	"ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/order/order_api"
	"ms-fulfillment/internal/payment/storage"
	"ms-fulfillment/internal/sweeper"
	"ms-fulfillment/internal/voucher"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	log := logger.NewLogger("order-service")
	defer log.Close()

	log.Info("APP", "Starting Order Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if err := runner.Up(); err != nil {
		log.Warn("DATABASE", fmt.Sprintf("Migration runner failed (%v), falling back to schema bootstrap", err))
		db.Migrate(bunDB)
	}

	var events order.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()

		topics := []string{
			cfg.Kafka.Topics.OrderCreated,
			cfg.Kafka.Topics.OrderPaid,
			cfg.Kafka.Topics.OrderCancelled,
			cfg.Kafka.Topics.PaymentFailed,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		events = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	ledger := inventory.NewLedger(bunDB, log)
	paymentStore, err := storage.NewPostgreSQLStoreWithDB(bunDB.DB, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to initialize payment store: %v", err))
	}

	orderService := order.NewOrderService(
		&db.DB{Bun: bunDB},
		ledger,
		catalog.NewClient(cfg.Catalog.BaseURL, httpClient, log),
		voucher.NewClient(cfg.Voucher.BaseURL, httpClient, log),
		paymentStore,
		events,
		cfg.Kafka.Topics,
		cfg.Payment.SettlementCurrency,
		log,
	)

	handler := order_api.NewHandler(orderService, log)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB), log)

	authMiddleware, err := auth.Middleware(os.Getenv("OIDC_ISSUER"))
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to set up auth middleware: %v", err))
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Route("/api", func(r chi.Router) {
			handler.RegisterRoutes(r)
			analyticsHandler.RegisterRoutes(r)
		})
	})
	log.Info("ROUTER", "Order and analytics routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	abandonment := sweeper.NewSweeper(&db.DB{Bun: bunDB}, orderService, cfg.Sweeper, log)
	go abandonment.Run(sweepCtx)

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopSweeper()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Order Service shutdown complete")
	}
}
