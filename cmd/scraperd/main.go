// Package main wires together the scrape orchestration service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/api"
	"github.com/JakeFAU/bizscraper/internal/breaker"
	"github.com/JakeFAU/bizscraper/internal/clock/system"
	"github.com/JakeFAU/bizscraper/internal/config"
	"github.com/JakeFAU/bizscraper/internal/dispatch"
	"github.com/JakeFAU/bizscraper/internal/events"
	redisfanout "github.com/JakeFAU/bizscraper/internal/fanout/redis"
	"github.com/JakeFAU/bizscraper/internal/id/uuid"
	"github.com/JakeFAU/bizscraper/internal/logging"
	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/pool"
	"github.com/JakeFAU/bizscraper/internal/scrape"
	"github.com/JakeFAU/bizscraper/internal/source/yellowpages"
	"github.com/JakeFAU/bizscraper/internal/storage/postgres"
	"github.com/JakeFAU/bizscraper/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	businesses := postgres.NewBusinessStore(db)
	tasks := postgres.NewTaskStore(db, logger.Named("tasks"))
	progress := postgres.NewProgressStore(db)
	eventStore := postgres.NewEventStore(db, logger.Named("events"))
	jobs := postgres.NewJobStore(db, logger.Named("jobs"))

	var fanout scrape.Publisher
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if pingErr := rdb.Ping(pingCtx).Err(); pingErr != nil {
			logger.Warn("redis unreachable, fanout degraded", zap.Error(pingErr))
		}
		cancel()
		fanout = redisfanout.New(rdb)
	} else {
		logger.Info("fanout disabled, no redis address configured")
	}

	clock := system.New()
	idGen := uuid.New()
	emitter := events.NewEmitter(eventStore, fanout, clock, logger.Named("emitter"))
	brk := breaker.New(progress, emitter, cfg.Breaker.Threshold, logger.Named("breaker"))
	src := yellowpages.New(yellowpages.Config{}, logger.Named("yellowpages"))

	minDelay, maxDelay := cfg.DelayBounds()
	wrk := worker.New(jobs, tasks, progress, businesses, emitter, brk, src, clock, worker.Config{
		PollInterval: cfg.PollInterval(),
		DelayMin:     minDelay,
		DelayMax:     maxDelay,
		MaxPages:     cfg.Scraper.MaxPages,
	}, logger.Named("worker"))

	hardLimit, softLimit := cfg.PoolLimits()
	runtime := pool.New(tasks, idGen, pool.Config{
		HardLimit: hardLimit,
		SoftLimit: softLimit,
	}, logger.Named("pool"))

	coord := dispatch.New(jobs, tasks, progress, runtime, wrk, emitter, cfg.Scraper.MaxPages, logger.Named("dispatch"))
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(jobs, eventStore, businesses, coord, emitter, idGen, apiKey, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runtime.Close()
	logger.Info("shutdown complete")
}
