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
	"github.com/JoshuaWink/tcg-order-management-system-sub000/encryption"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/logger"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/metrics"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New("orders")
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := cfg.PaymentKey()
	if err != nil {
		log.Fatal("payment encryption key", zap.Error(err))
	}
	enc, err := encryption.NewAESGCM(key)
	if err != nil {
		log.Fatal("payment encryption", zap.Error(err))
	}

	store, err := orders.NewMongoStore(ctx, cfg.OrderStoreURL, cfg.StoreTimeout())
	if err != nil {
		log.Fatal("open order store", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("close order store", zap.Error(err))
		}
	}()

	bus, err := broker.Connect(broker.Options{
		URL:            cfg.BrokerURL(),
		Exchange:       cfg.BrokerExchange,
		PublishTimeout: cfg.PublishTimeout(),
		DedupWindow:    cfg.DedupWindow(),
	}, log, metrics.NewBusMetrics("orders"))
	if err != nil {
		log.Fatal("connect broker", zap.Error(err))
	}
	defer bus.Close()

	service := orders.NewService(
		store,
		bus,
		enc,
		int64(cfg.TaxRateBasisPoints),
		log,
		metrics.NewOrderMetrics("orders"),
	)

	consumer := orders.NewConsumer(service, log)
	if err := consumer.Listen(bus); err != nil {
		log.Fatal("subscribe", zap.Error(err))
	}

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	log.Info("order service started", zap.String("metrics_addr", cfg.MetricsAddr))

	<-ctx.Done()
	log.Info("shutting down")
}
