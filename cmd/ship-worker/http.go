package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/HarborPulse/ShipWatch/config"
	"github.com/HarborPulse/ShipWatch/internal/services/poller"
	"github.com/go-chi/chi/v5"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	poller *poller.Poller
	cfg    *config.Config
}

// Операционные ручки воркера: статистика, триггер цикла, просмотр настроек.
func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational worker settings.
		out := map[string]any{
			"pollIntervalSeconds":          opts.cfg.ShipWatch.WorkerPollIntervalSeconds,
			"batchSize":                    opts.cfg.ShipWatch.WorkerBatchSize,
			"concurrency":                  opts.cfg.ShipWatch.WorkerConcurrency,
			"leaseSeconds":                 opts.cfg.ShipWatch.WorkerLeaseSeconds,
			"rateLimitPerMinute":           opts.cfg.ShipWatch.WorkerRateLimitPerMinute,
			"carrierRateLimits":            opts.cfg.ShipWatch.WorkerCarrierRateLimits,
			"stalenessSeconds":             opts.cfg.ShipWatch.StalenessSeconds,
			"nextCheckInTransitMinSeconds": opts.cfg.ShipWatch.WorkerNextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": opts.cfg.ShipWatch.WorkerNextCheckInTransitMaxSeconds,
			"nextCheckRegisteredSeconds":   opts.cfg.ShipWatch.WorkerNextCheckRegisteredSeconds,
			"nextCheckDefaultSeconds":      opts.cfg.ShipWatch.WorkerNextCheckDefaultSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		opts.poller.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
