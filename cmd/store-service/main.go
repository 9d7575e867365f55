package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cartcache "github.com/fjod/go_store/internal/cart/cache"
	cartservice "github.com/fjod/go_store/internal/cart/service"
	catalog "github.com/fjod/go_store/internal/catalog/repository"
	checkout "github.com/fjod/go_store/internal/checkout/service"
	"github.com/fjod/go_store/internal/config"
	storegrpc "github.com/fjod/go_store/internal/grpc"
	storehttp "github.com/fjod/go_store/internal/http"
	inventory "github.com/fjod/go_store/internal/inventory/service"
	"github.com/fjod/go_store/internal/metrics"
	orderservice "github.com/fjod/go_store/internal/orders/service"
	"github.com/fjod/go_store/internal/publisher"
	"github.com/fjod/go_store/internal/storage/sqlstore"
	"github.com/fjod/go_store/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("service stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := sqlstore.Open(cfg.StoreDriver, cfg.StoreDSN, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.RunMigrations(cfg.StoreMigrationsPath); err != nil {
		return err
	}
	log.Info("store migrations completed")

	products, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return err
	}
	log.Info("catalog migrations completed")

	var cache cartcache.CartCache = cartcache.NoopCache{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))
		cache = cartcache.NewRedisCache(redisClient).WithTTL(cfg.CartCacheTTL)
	}

	stock := inventory.NewStockService(store, products, log, m).WithLowThreshold(cfg.LowStockThreshold)
	carts := cartservice.NewCartService(store, products, cache, log, m).WithCurrency(cfg.Currency)
	orders := orderservice.NewOrderService(store, stock, log, m).WithRestockOnCancel(cfg.RestockOnCancel)
	checkouts := checkout.NewCheckoutService(store, products, carts, stock, log, m)

	router := storehttp.NewRouter(storehttp.RouterConfig{
		Cart:           storehttp.NewCartHandler(carts, log, cfg.RequestTimeout),
		Checkout:       storehttp.NewCheckoutHandler(checkouts, log, cfg.RequestTimeout),
		Orders:         storehttp.NewOrdersHandler(orders, log, cfg.RequestTimeout),
		Stock:          storehttp.NewStockHandler(stock, log, cfg.RequestTimeout),
		Products:       storehttp.NewProductHandler(products, log, cfg.RequestTimeout),
		Ping:           store.Ping,
		Metrics:        m,
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := storegrpc.NewServer(store.Ping, log)

	sink, err := newSink(cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return grpcServer.Serve(gctx, lis)
	})
	if sink != nil {
		defer sink.Close()
		poller := publisher.NewOutboxPoller(store.Outbox(), sink, log, m).
			WithInterval(cfg.OutboxInterval).
			WithBatchSize(cfg.OutboxBatchSize)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	return g.Wait()
}

func newSink(cfg *config.Config, log *slog.Logger) (publisher.Sink, error) {
	switch cfg.EventSink {
	case config.SinkKafka:
		log.Info("publishing events to kafka", slog.Any("brokers", cfg.KafkaBrokers), slog.String("topic", cfg.KafkaTopic))
		return publisher.NewKafkaSink(cfg.KafkaTopic, cfg.KafkaBrokers...), nil
	case config.SinkRabbitMQ:
		sink, err := publisher.DialRabbitMQ(cfg.RabbitMQURL, cfg.RabbitMQExchange, log)
		if err != nil {
			return nil, err
		}
		log.Info("publishing events to rabbitmq", slog.String("exchange", cfg.RabbitMQExchange))
		return sink, nil
	case config.SinkLog:
		return publisher.NewLogSink(log), nil
	default:
		log.Warn("event sink disabled, outbox events stay pending")
		return nil, nil
	}
}
