// Command testtarget serves the demo HTTP target for manual load runs:
//
//	go run ./cmd/testtarget -addr :8080
//	stampede run --url http://localhost:8080/api/data --vus 10 --duration 30s
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/testtarget"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	cacheTTL := flag.Duration("cache-ttl", 30*time.Second, "product cache TTL")
	dbDelay := flag.Duration("db-delay", 200*time.Millisecond, "simulated database query latency")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	target := testtarget.New(testtarget.Options{
		Logger:   logger,
		CacheTTL: *cacheTTL,
		DBDelay:  *dbDelay,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           target.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("test target listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
