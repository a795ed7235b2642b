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

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/app"
	"github.com/seanblong/lecturedocs/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("lecturedocs-worker", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	if err := app.SetupLogging(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Info().
		Str("llm_primary", cfg.LLM.Primary).
		Str("index_backend", cfg.Pipeline.IndexBackend).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("starting lecturedocs worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer a.Close()

	proc, err := a.Processor()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build job processor")
	}

	if cfg.Worker.HealthAddr != "" {
		srv := healthServer(cfg.Worker.HealthAddr, a)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("health endpoint listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("health endpoint stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := proc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("job processor exited")
	}
}

func healthServer(addr string, a *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("database ping failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	handler := hlog.NewHandler(log.Logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
	return &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
}
