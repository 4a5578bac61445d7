package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/wallet-events/internal/bootstrap"
	"github.com/richardliu001/wallet-events/internal/broker"
	"github.com/richardliu001/wallet-events/internal/config"
	"github.com/richardliu001/wallet-events/internal/consumer"
	"github.com/richardliu001/wallet-events/internal/deadletter"
	"github.com/richardliu001/wallet-events/internal/events"
	"github.com/richardliu001/wallet-events/internal/jobs"
	"github.com/richardliu001/wallet-events/internal/logger"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/processor"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/richardliu001/wallet-events/internal/txn"
	"go.uber.org/zap"
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
	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repository := repo.NewRepository(gdb, rdb, log)
	runner := txn.NewRunner(gdb, txn.Options{
		MaxAttempts:      cfg.Transaction.MaxAttempts,
		MaxCommitRetries: cfg.Transaction.MaxCommitRetries,
		InitialBackoff:   cfg.Transaction.InitialBackoff,
	}, log)

	queue := jobs.NewRedisQueue(rdb)
	transfers := processor.NewTransferProcessor(queue)
	registry := processor.NewRegistry().
		Register(events.TopicUserEmailVerified, processor.NewAuthProcessor(repository, queue, nil, log)).
		Register(events.TopicPasswordReset, processor.NewPasswordResetProcessor(queue)).
		Register(events.TopicTransferCompleted, transfers).
		Register(events.TopicDepositCompleted, transfers).
		Register(events.TopicWithdrawalCompleted, transfers)

	reader, err := broker.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, registry.Topics())
	if err != nil {
		log.Fatalf("kafka reader: %v", err)
	}
	defer reader.Close()

	dlq := broker.NewKafkaPublisher(broker.NewKafkaWriter(cfg.Kafka.Brokers), log)
	defer dlq.Close()
	sink := deadletter.NewSink(dlq, cfg.Kafka.DeadLetterTopic, repository, log, m)

	c := consumer.New(reader, registry, repository, runner, sink, consumer.Config{
		MaxDeliveries:  cfg.Consumer.MaxDeliveries,
		InitialBackoff: cfg.Consumer.InitialBackoff,
		MaxBackoff:     cfg.Consumer.MaxBackoff,
	}, log, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		purgeLoop(gctx, repository, cfg.Consumer.Retention, cfg.Consumer.PurgeInterval, log)
		return nil
	})
	g.Go(func() error { return bootstrap.ServeMetrics(gctx, cfg.Server.MetricsPort, reg, log) })

	if err := g.Wait(); err != nil {
		log.Fatalf("consumer: %v", err)
	}
}

// purgeLoop drops idempotency records older than retention every interval.
func purgeLoop(ctx context.Context, r *repo.Repository, retention, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := r.PurgeProcessedBefore(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			log.Errorw("purge processed events", "error", err)
			continue
		}
		log.Infow("processed events purged", "deleted", n)
	}
}
