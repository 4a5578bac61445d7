package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/richardliu001/wallet-events/internal/bootstrap"
	"github.com/richardliu001/wallet-events/internal/config"
	"github.com/richardliu001/wallet-events/internal/logger"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/relay"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/richardliu001/wallet-events/internal/service"
	httptransport "github.com/richardliu001/wallet-events/internal/transport/http"
	"github.com/richardliu001/wallet-events/internal/txn"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. postgres & redis
	gdb, err := bootstrap.OpenPostgres(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer rdb.Close()

	// 4. repo & services
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repository := repo.NewRepository(gdb, rdb, log)
	runner := txn.NewRunner(gdb, txn.Options{
		MaxAttempts:      cfg.Transaction.MaxAttempts,
		MaxCommitRetries: cfg.Transaction.MaxCommitRetries,
		InitialBackoff:   cfg.Transaction.InitialBackoff,
	}, log)
	accounts := service.NewAccountService(repository, runner, log)
	ledger := service.NewLedgerService(repository, runner, log)
	// The API only requeues; publishing belongs to the poller.
	outbox := relay.New(repository, nil, relay.Config{}, log, m)

	// 5. gin router
	h := httptransport.NewHandler(accounts, ledger, repository, outbox, log)
	router := httptransport.NewRouter(h, cfg.RateLimit, reg, log)

	// 6. serve
	log.Infow("wallet-server starting", "port", cfg.Server.Port)
	if err := bootstrap.Serve(ctx, cfg.Server.Port, router, log); err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Info("wallet-server stopped")
}
