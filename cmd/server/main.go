package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-fulfillment-service/internal/config"
	"order-fulfillment-service/internal/controller"
	"order-fulfillment-service/internal/gateway"
	"order-fulfillment-service/internal/kafka"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/rabbit"
	"order-fulfillment-service/internal/repository"
	"order-fulfillment-service/internal/service"
)

const serviceName = "order-fulfillment-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger(serviceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service_stopped", zap.Error(err))
	}
	logger.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer, "order_fulfillment")

	// MongoDB
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI).SetRegistry(repository.NewRegistry()))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	if err := client.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(cfg.MongoDBName)

	orders := repository.NewMongoOrderRepository(db)
	reservations := repository.NewMongoReservationRepository(db)
	if err := orders.EnsureIndexes(connectCtx); err != nil {
		return fmt.Errorf("order indexes: %w", err)
	}
	if err := reservations.EnsureIndexes(connectCtx); err != nil {
		return fmt.Errorf("reservation indexes: %w", err)
	}

	products := repository.NewMongoProductStore(db)
	var catalog service.ProductCatalog = products
	stock, closeStock, err := openStock(connectCtx, cfg, products)
	if err != nil {
		return err
	}
	defer closeStock()
	if mem, ok := stock.(*repository.MemoryStore); ok {
		// local runs: counters are loaded once from Mongo and the snapshot serves as catalog
		catalog = mem
	}
	logger.Info("stock_backend", zap.String("backend", cfg.StockBackend))

	// RabbitMQ: publishing and consuming use separate channels, a channel-level
	// publish error closes only its own channel.
	var conn *amqp091.Connection
	if cfg.NeedsRabbit() {
		if conn, err = amqp091.Dial(cfg.RabbitURL); err != nil {
			return fmt.Errorf("rabbit dial: %w", err)
		}
		defer conn.Close()
	}

	publisher, closePublisher, err := openPublisher(cfg, conn, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	// Services
	notifier := service.NewEventNotifier(publisher, logger, m)
	inventory := service.NewInventoryCoordinator(stock, reservations, logger, m)
	machine := service.NewStateMachine(orders, inventory, notifier, logger)
	reconciler := service.NewReconciler(orders, notifier, logger, m, service.ReconcilerOptions{AutoProcess: cfg.AutoProcessOnPayment})
	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		SecretKey:   cfg.GatewaySecretKey,
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
	}, logger, m)
	payments := service.NewPaymentService(orders, gw, reconciler, machine, service.PaymentOptions{
		Currency:      cfg.PaymentCurrency,
		CallbackURL:   cfg.PaymentCallbackURL,
		ReturnURLBase: cfg.FrontendURL,
	}, logger)
	orderService := service.NewOrderService(orders, catalog, inventory, machine, notifier, logger)
	authService := service.NewAuthService(cfg.AuthURL, cfg.AuthTimeout)

	if cfg.WebhookSecret == "" {
		logger.Warn("payment_webhook_unsigned", zap.String("route", "/payments/callback"))
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := controller.NewRouter(controller.RouterDeps{
		Orders:         controller.NewOrderController(orderService, payments),
		Payments:       controller.NewPaymentController(payments, reconciler),
		Auth:           authService,
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: promhttp.Handler(),
		WebhookSecret:  cfg.WebhookSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.PaymentReportsConsumer {
		consumeCh, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("rabbit consumer channel: %w", err)
		}
		defer consumeCh.Close()
		consumer := rabbit.NewPaymentReportConsumer(reconciler, logger)
		g.Go(func() error {
			return rabbit.ConsumePaymentReports(gctx, consumeCh, consumer, logger)
		})
	}
	return g.Wait()
}

func openStock(ctx context.Context, cfg *config.Config, products *repository.MongoProductStore) (service.StockStore, func(), error) {
	switch cfg.StockBackend {
	case config.StockRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return repository.NewRedisStockStore(rdb), func() { _ = rdb.Close() }, nil
	case config.StockMySQL:
		sqlDB, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("mysql open: %w", err)
		}
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		return repository.NewMySQLStockStore(sqlDB), func() { _ = sqlDB.Close() }, nil
	case config.StockMemory:
		mem := repository.NewMemoryStore()
		n, err := mem.SeedFrom(ctx, products)
		if err != nil {
			return nil, nil, fmt.Errorf("load catalog into memory: %w", err)
		}
		if n == 0 {
			return nil, nil, errors.New("STOCK_BACKEND=memory: products collection is empty")
		}
		return mem, func() {}, nil
	default:
		return products, func() {}, nil
	}
}

func openPublisher(cfg *config.Config, conn *amqp091.Connection, logger *zap.Logger) (service.EventPublisher, func(), error) {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		p := kafka.NewPublisher(kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		return p, func() { _ = p.Close() }, nil
	case config.EventsRabbit:
		ch, err := conn.Channel()
		if err != nil {
			return nil, nil, fmt.Errorf("rabbit publisher channel: %w", err)
		}
		p, err := rabbit.NewPublisher(ch)
		if err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
		return p, func() { _ = ch.Close() }, nil
	default:
		return service.NewLogPublisher(logger), func() {}, nil
	}
}
