package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/broker"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/config"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/inventory"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/logger"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/metrics"
)

const itemCacheTTL = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New("inventory")
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := inventory.NewPostgresStore(cfg.ItemStoreURL, cfg.StoreTimeout())
	if err != nil {
		log.Fatal("open item store", zap.Error(err))
	}
	defer pg.Close()

	var store inventory.Store = pg
	var cache *inventory.ItemCache
	if cfg.ItemCacheAddr != "" {
		cache, err = inventory.NewItemCache(cfg.ItemCacheAddr, itemCacheTTL)
		if err != nil {
			log.Fatal("connect item cache", zap.Error(err))
		}
		defer cache.Close()
		store = inventory.NewCachedStore(pg, cache, log)
		log.Info("item read cache enabled", zap.String("addr", cfg.ItemCacheAddr))
	}

	bus, err := broker.Connect(broker.Options{
		URL:            cfg.BrokerURL(),
		Exchange:       cfg.BrokerExchange,
		PublishTimeout: cfg.PublishTimeout(),
		DedupWindow:    cfg.DedupWindow(),
	}, log, metrics.NewBusMetrics("inventory"))
	if err != nil {
		log.Fatal("connect broker", zap.Error(err))
	}
	defer bus.Close()

	engine := inventory.NewEngine(
		store,
		bus,
		cfg.ReservationTTL(),
		int64(cfg.LowStockThreshold),
		log,
		metrics.NewInventoryMetrics("inventory"),
	)

	consumer := inventory.NewConsumer(engine, log)
	if err := consumer.Listen(bus); err != nil {
		log.Fatal("subscribe", zap.Error(err))
	}

	sweeper := inventory.NewSweeper(engine, cfg.SweepInterval(), log)
	go sweeper.Run(ctx)

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	log.Info("inventory service started",
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Duration("reservation_ttl", cfg.ReservationTTL()),
		zap.Duration("sweep_interval", cfg.SweepInterval()),
	)

	<-ctx.Done()
	log.Info("shutting down")
}
