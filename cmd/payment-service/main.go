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

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-fulfillment/internal/catalog"
	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/inventory"
	"ms-fulfillment/internal/kafka"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/order"
	"ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/payment"
	"ms-fulfillment/internal/payment/gateway"
	"ms-fulfillment/internal/payment/handler"
	paymentredis "ms-fulfillment/internal/payment/redis"
	"ms-fulfillment/internal/payment/storage"
	"ms-fulfillment/internal/voucher"
)

func main() {
	log := logger.NewLogger("payment-service")
	defer log.Close()

	log.Info("APP", "Starting Payment Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	paymentStore, err := storage.NewPostgreSQLStoreWithDB(sqldb, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to initialize payment store: %v", err))
	}

	var events order.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		events = producer
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	orderService := order.NewOrderService(
		&db.DB{Bun: bunDB},
		inventory.NewLedger(bunDB, log),
		catalog.NewClient(cfg.Catalog.BaseURL, httpClient, log),
		voucher.NewClient(cfg.Voucher.BaseURL, httpClient, log),
		paymentStore,
		events,
		cfg.Kafka.Topics,
		cfg.Payment.SettlementCurrency,
		log,
	)

	stripeGateway, err := gateway.NewStripeGateway(
		os.Getenv("STRIPE_SECRET_KEY"),
		os.Getenv("PAYMENT_SUCCESS_URL"),
		os.Getenv("PAYMENT_CANCEL_URL"),
		log,
	)
	if err != nil {
		log.Fatal("GATEWAY", fmt.Sprintf("Failed to initialize payment gateway: %v", err))
	}

	locks := paymentredis.NewLocks(redisClient, 30*time.Second)
	reconciler := payment.NewReconciler(paymentStore, orderService, stripeGateway, locks, cfg.Payment, log)
	paymentHandler := handler.NewPaymentHandler(reconciler, paymentStore, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	paymentHandler.RegisterRoutes(router)
	router.GET("/health", func(c *gin.Context) {
		if err := paymentStore.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	port := os.Getenv("PAYMENT_PORT")
	if port == "" {
		port = ":8085"
	}
	server := &http.Server{
		Addr:         port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Payment Service running on %s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Payment Service shutdown complete")
	}
}
