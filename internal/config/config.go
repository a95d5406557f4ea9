package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Payment  PaymentConfig
	Sweeper  SweeperConfig
	Catalog  CatalogConfig
	Voucher  VoucherConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated   string
	OrderPaid      string
	OrderCancelled string
	PaymentFailed  string
}

// PaymentConfig carries the gateway conversion parameters. They are
// passed into the reconciler at construction, never read from ambient
// globals at call time.
type PaymentConfig struct {
	SettlementCurrency string
	ExchangeRate       float64 // store currency -> settlement currency
	MinimumCharge      float64 // gateway floor in settlement currency
	GatewayTimeout     time.Duration
}

type SweeperConfig struct {
	Threshold time.Duration // pending orders older than this get cancelled
	Interval  time.Duration
}

type CatalogConfig struct {
	BaseURL string
}

type VoucherConfig struct {
	BaseURL string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "shop_user"),
			Password:     getEnv("DB_PASSWORD", "shop_pass"),
			Database:     getEnv("DB_NAME", "fulfillment"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderCreated:   getEnv("KAFKA_TOPIC_ORDER_CREATED", "order-created"),
				OrderPaid:      getEnv("KAFKA_TOPIC_ORDER_PAID", "order-paid"),
				OrderCancelled: getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "order-cancelled"),
				PaymentFailed:  getEnv("KAFKA_TOPIC_PAYMENT_FAILED", "payment-failed"),
			},
		},
		Payment: PaymentConfig{
			SettlementCurrency: getEnv("PAYMENT_CURRENCY", "usd"),
			ExchangeRate:       getEnvFloat("PAYMENT_EXCHANGE_RATE", 1.0),
			MinimumCharge:      getEnvFloat("PAYMENT_MIN_CHARGE", 0.50),
			GatewayTimeout:     time.Duration(getEnvInt("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Sweeper: SweeperConfig{
			Threshold: time.Duration(getEnvInt("SWEEPER_THRESHOLD_MINUTES", 60)) * time.Minute,
			Interval:  time.Duration(getEnvInt("SWEEPER_INTERVAL_MINUTES", 5)) * time.Minute,
		},
		Catalog: CatalogConfig{
			BaseURL: getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"),
		},
		Voucher: VoucherConfig{
			BaseURL: getEnv("VOUCHER_SERVICE_URL", "http://localhost:8082"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
