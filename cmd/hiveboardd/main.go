// Command hiveboardd is the HiveBoard ingest/query/alerting server (§1, §6).
// It wires storage, authentication, ingest, fan-out, alerting, retention,
// and the optional NATS mirror into a single HTTP(S) listener, following
// the teacher's cmd/cliaimonitor/main.go flag-and-graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hiveboard/server/internal/alerts"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/config"
	"github.com/hiveboard/server/internal/httpapi"
	"github.com/hiveboard/server/internal/hub"
	"github.com/hiveboard/server/internal/ingest"
	"github.com/hiveboard/server/internal/natsmirror"
	"github.com/hiveboard/server/internal/query"
	"github.com/hiveboard/server/internal/retention"
	"github.com/hiveboard/server/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional, env vars always override)")
	embedNATS := flag.Bool("embedded-nats", false, "run a local NATS server for development instead of dialing the configured nats_url (HIVEBOARD_NATS_URL)")
	embedNATSPort := flag.Int("embedded-nats-port", 4222, "port for -embedded-nats")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[hiveboardd] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	store := storage.NewMemStore(cfg.DataDir)

	auth := authctx.New(store, cfg.JWTSecret)
	ingestLimiter := authctx.NewLimiters(cfg.IngestRatePerSecond, int(cfg.IngestRatePerSecond))
	queryLimiter := authctx.NewLimiters(cfg.QueryRatePerSecond, int(cfg.QueryRatePerSecond))

	wsHub := hub.New(logger)
	go wsHub.Run()

	alertEngine := alerts.New(store, logger)

	pipeline := &ingest.Pipeline{Store: store, Broadcast: wsHub, Alerts: alertEngine, Logger: logger}

	queryEngine := query.New(store)

	sweeper := retention.New(store, cfg.RetentionInterval, logger)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweeper.Run(sweepCtx)

	stuckSweepCtx, stuckSweepCancel := context.WithCancel(context.Background())
	defer stuckSweepCancel()
	go pipeline.RunStuckSweep(stuckSweepCtx)

	natsURL := cfg.NATSURL
	if *embedNATS {
		embedded := natsmirror.NewEmbeddedServer(*embedNATSPort)
		if err := embedded.Start(); err != nil {
			logger.Printf("embedded nats server failed to start: %v", err)
		} else {
			defer embedded.Shutdown()
			natsURL = embedded.URL()
			logger.Printf("embedded nats server listening on %s", natsURL)
		}
	}

	var mirror *natsmirror.Mirror
	if natsURL != "" {
		m, err := natsmirror.Connect(natsURL, logger)
		if err != nil {
			logger.Printf("nats mirror disabled: %v", err)
		} else {
			mirror = m
			defer mirror.Close()
		}
	}

	srv := httpapi.New(store, auth, pipeline, wsHub, alertEngine, queryEngine, sweeper, mirror, logger, ingestLimiter, queryLimiter)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Printf("server error: %v", err)
		}
	case <-shutdown:
		logger.Println("shutting down (signal received)")
	}

	sweepCancel()
	stuckSweepCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}

	logger.Println("goodbye")
}
