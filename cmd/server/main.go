package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"credits/internal/app"
	"credits/internal/config"
	"credits/internal/handlers"
	"credits/internal/logging"
	"credits/internal/metrics"
	"credits/internal/websocket"

	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnv(logging.New("info"))
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).WithField("service", "credits")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("failed to release resources")
		}
	}()

	hub := websocket.NewHub()
	hub.Subscribe(a.Bus)
	m := metrics.New()
	m.Subscribe(a.Bus)

	handler := handlers.New(cfg, a.Credits, hub, m, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": server.Addr, "store": cfg.StoreDriver}).Info("credits API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
