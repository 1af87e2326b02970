package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credits/internal/config"
	"credits/internal/db"
	"credits/internal/handlers"
	"credits/internal/jobs"
	"credits/internal/services"
	"credits/internal/websocket"

	"github.com/robfig/cron/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	rules, err := services.NewRules(cfg)
	if err != nil {
		logger.Error("invalid credit rules", "error", err)
		os.Exit(1)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	txRunner := db.NewTxRunner(database, cfg.LockTimeout)
	hub := websocket.NewHub()
	credits := services.NewCreditService(txRunner, services.PostgresStores(database), hub, rules, services.SystemClock(), logger)

	scheduler := cron.New()
	if _, err := jobs.NewReconcileJob(credits, time.Minute, logger).Start(scheduler, cfg.ReconcileSchedule); err != nil {
		logger.Error("failed to schedule reconcile", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	handler := handlers.New(cfg, credits, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("credits API listening", "addr", server.Addr, "env", cfg.AppEnv, "project", cfg.ProjectKey)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
