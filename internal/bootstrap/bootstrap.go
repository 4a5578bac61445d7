// Package bootstrap opens the shared infrastructure for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/wallet-events/internal/config"
	"github.com/richardliu001/wallet-events/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// connectTimeout bounds how long a binary waits for a dependency at startup.
const connectTimeout = time.Minute

// OpenPostgres connects with retries and migrates every table.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, log *zap.SugaredLogger) (*gorm.DB, error) {
	var gdb *gorm.DB
	err := retry(ctx, "postgres", log, func() error {
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		gdb = db
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return gdb, nil
}

// OpenRedis connects with retries.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, log *zap.SugaredLogger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	err := retry(ctx, "redis", log, func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func retry(ctx context.Context, name string, log *zap.SugaredLogger, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = connectTimeout
	return backoff.RetryNotify(fn, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		log.Warnw("dependency not ready, retrying", "dependency", name, "backoff", wait, "error", err)
	})
}

// ServeMetrics exposes gatherer on :port/metrics until ctx is cancelled.
func ServeMetrics(ctx context.Context, port int, gatherer prometheus.Gatherer, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return serve(ctx, srv, log)
}

// serve runs srv and shuts it down gracefully when ctx is cancelled.
func serve(ctx context.Context, srv *http.Server, log *zap.SugaredLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Serve runs handler on :port until ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler, log *zap.SugaredLogger) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	return serve(ctx, srv, log)
}
