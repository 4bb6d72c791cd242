// config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EventsRabbit = "rabbit"
	EventsKafka  = "kafka"
	EventsLog    = "log"

	StockMongo  = "mongo"
	StockRedis  = "redis"
	StockMySQL  = "mysql"
	StockMemory = "memory"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	MongoURI    string
	MongoDBName string

	AuthURL     string
	AuthTimeout time.Duration

	RabbitURL              string
	PaymentReportsConsumer bool

	EventsBackend string
	KafkaBrokers  []string
	KafkaTopic    string

	StockBackend string
	RedisAddr    string
	MySQLDSN     string

	GatewayBaseURL     string
	GatewaySecretKey   string
	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	PaymentCurrency    string
	PaymentCallbackURL string
	FrontendURL        string
	WebhookSecret      string

	AutoProcessOnPayment bool
}

// Load reads the environment, after an optional .env file in the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://host.docker.internal:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "order_fulfillment_db"),

		AuthURL: getEnv("AUTH_URL", "http://host.docker.internal:3000"),

		RabbitURL: getEnv("RABBIT_URL", "amqp://host.docker.internal"),

		EventsBackend: strings.ToLower(getEnv("EVENTS_BACKEND", EventsRabbit)),
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "order-events"),

		StockBackend: strings.ToLower(getEnv("STOCK_BACKEND", StockMongo)),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		MySQLDSN:     getEnv("MYSQL_DSN", ""),

		GatewayBaseURL:     getEnv("PAYCHANGU_BASE_URL", "https://api.paychangu.com"),
		GatewaySecretKey:   getEnv("PAYCHANGU_SECRET_KEY", ""),
		PaymentCurrency:    getEnv("PAYMENT_CURRENCY", "MWK"),
		PaymentCallbackURL: getEnv("PAYCHANGU_CALLBACK_URL", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		WebhookSecret:      getEnv("PAYMENT_WEBHOOK_SECRET", ""),
	}

	var err error
	if cfg.AuthTimeout, err = getDuration("AUTH_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayMaxAttempts, err = getInt("GATEWAY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.AutoProcessOnPayment, err = getBool("AUTO_PROCESS_ON_PAYMENT", true); err != nil {
		return nil, err
	}
	if cfg.PaymentReportsConsumer, err = getBool("PAYMENT_REPORTS_CONSUMER", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.EventsBackend {
	case EventsRabbit, EventsKafka, EventsLog:
	default:
		errs = append(errs, fmt.Errorf("EVENTS_BACKEND must be rabbit, kafka or log, got %q", c.EventsBackend))
	}
	switch c.StockBackend {
	case StockMongo, StockRedis, StockMemory:
	case StockMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required when STOCK_BACKEND=mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("STOCK_BACKEND must be mongo, redis, mysql or memory, got %q", c.StockBackend))
	}
	if c.EventsBackend == EventsKafka && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka"))
	}
	if c.GatewayMaxAttempts < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// NeedsRabbit reports whether a broker connection has to be opened at startup.
func (c *Config) NeedsRabbit() bool {
	return c.EventsBackend == EventsRabbit || c.PaymentReportsConsumer
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
