package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/parley/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/parley/internal/adapter/driven/metrics"
	"github.com/Wyydra/parley/internal/adapter/driven/signaling/memory"
	"github.com/Wyydra/parley/internal/adapter/driven/signaling/redis"
	handler "github.com/Wyydra/parley/internal/adapter/driving/http"
	"github.com/Wyydra/parley/internal/config"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/Wyydra/parley/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logging.Setup("info", "console")
		l.Fatal().Err(err).Msg("Failed to load config")
	}
	l := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var store port.SignalingStore
	switch cfg.Signaling.Backend {
	case config.BackendRedis:
		rs, err := redis.NewStoreFromURL(cfg.Signaling.RedisURL)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to configure redis")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rs.Ping(ctx)
		cancel()
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to reach redis")
		}
		defer rs.Close()
		store = rs
	case config.BackendMemory:
		store = memory.NewStore()
	default:
		l.Fatal().Str("backend", cfg.Signaling.Backend).Msg("The server needs a memory or redis backend")
	}

	m := metrics.New()
	hub := ws.NewHub()
	hub.OnChange = m.SetActiveWatches
	h := handler.NewHandler(store, hub, m)

	go hub.Run()

	r := h.NewRouter()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("addr", cfg.HTTP.Addr).Str("backend", cfg.Signaling.Backend).Msg("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	// Watch streams are hijacked connections that Shutdown does not wait
	// for, so close them first.
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	l.Info().Msg("Server exited")
}
