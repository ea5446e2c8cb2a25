package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pettycash/internal/config"
	"pettycash/internal/infra"
	"pettycash/internal/metrics"
	"pettycash/internal/middleware"
	"pettycash/internal/repository"
	"pettycash/internal/router"
	"pettycash/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Closure report workers are wired here, at the composition root.
	var sender worker.ReportSender
	if mailer := infra.NewMailer(cfg); mailer.Configured() {
		sender = mailer
	} else {
		log.Warn().Msg("SMTP_HOST not set, closure reports are stored but not mailed")
	}
	smtpBreaker := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	reports := worker.NewReportWorker(
		repository.NewCashRepository(db),
		sender,
		smtpBreaker,
		cfg.Recipients(),
		cfg.ReportStoragePath,
		cfg.BusinessName,
	)
	m := metrics.New()
	pool := worker.NewPool(rdb)
	pool.SetMetrics(m)
	pool.Register(worker.QueueClosureReport, worker.JobClosureReport, reports)
	pool.Start(ctx, cfg.WorkerPoolSize)
	worker.StartRedriveCron(ctx, worker.RedriveConfig{RDB: rdb, CB: smtpBreaker, Queue: worker.QueueClosureReport})

	limiter, err := middleware.NewRateLimiter(cfg.RateLimitRPM, time.Minute, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build rate limiter")
	}

	r := router.New(cfg, db, rdb, limiter, m)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("petty cash service listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	cancel()
	pool.Wait()
	log.Info().Msg("server exited")
}
