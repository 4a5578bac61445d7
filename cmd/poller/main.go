package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/wallet-events/internal/bootstrap"
	"github.com/richardliu001/wallet-events/internal/broker"
	"github.com/richardliu001/wallet-events/internal/config"
	"github.com/richardliu001/wallet-events/internal/logger"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/relay"
	"github.com/richardliu001/wallet-events/internal/repo"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := bootstrap.OpenPostgres(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatalf("%v", err)
	}

	pub := broker.NewKafkaPublisher(broker.NewKafkaWriter(cfg.Kafka.Brokers), log)
	defer pub.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := relay.New(repo.NewRepository(gdb, nil, log), pub, relay.Config{
		Interval:         cfg.Relay.Interval,
		StaleAfter:       cfg.Relay.StaleAfter,
		MaxClaimsPerTick: cfg.Relay.MaxClaimsPerTick,
	}, log, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return bootstrap.ServeMetrics(gctx, cfg.Server.MetricsPort, reg, log) })

	log.Info("wallet-poller started")
	if err := g.Wait(); err != nil {
		log.Fatalf("poller: %v", err)
	}
}
