package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"noteflow/internal/api"
	"noteflow/internal/app"
	"noteflow/internal/config"
	"noteflow/internal/events"
	"noteflow/internal/jobs"
	"noteflow/internal/logger"
	"noteflow/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	cfg := config.Load()
	log.WithField("environment", cfg.Environment).Info("starting service")

	orchestrator := app.NewPipeline(cfg, log)

	publisher := events.New(&events.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Enabled:   cfg.Kafka.Enabled,
	}, metrics.DefaultMetrics, log)

	manager := jobs.NewManager(orchestrator, publisher, jobs.Options{TTL: cfg.JobTTL}, log)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	manager.StartJanitor(janitorCtx, time.Minute)

	handler := api.NewServer(manager, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		WorkDir:        cfg.WorkDir,
	}, log).Router()

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	stopJanitor()
	if err := manager.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("jobs did not stop in time")
	}
	if err := publisher.Close(); err != nil {
		log.WithError(err).Warn("closing event publisher")
	}
	log.Info("bye")
}
