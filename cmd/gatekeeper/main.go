// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command gatekeeper runs the DoS-mitigation gatekeeper/LLS data plane:
// it loads a static startup configuration, stages resource allocation and
// interface binding (internal/launch), starts one worker per configured
// core, and serves Prometheus metrics until terminated.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/gatekeeper/internal/gkconfig"
	"grimm.is/gatekeeper/internal/launch"
	"grimm.is/gatekeeper/internal/logging"
)

func main() {
	configPath := os.Getenv("GATEKEEPER_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if configPath == "" {
		log.Fatal("usage: gatekeeper <config.hcl> (or set GATEKEEPER_CONFIG)")
	}

	logger := logging.New(logging.DefaultConfig()).WithComponent("gatekeeper")

	cfg, err := gkconfig.Load(configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	sys, err := launch.Stage1(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("stage1 failed")
		os.Exit(1)
	}
	if err := sys.Stage2(); err != nil {
		logger.WithError(err).Error("stage2 failed")
		os.Exit(1)
	}
	sys.Run()
	logger.Info("gatekeeper started", "gk_interfaces", len(cfg.GKInterfaces), "lls_interfaces", len(cfg.LLSInterfaces))

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sys.Metrics.MustRegister(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	sys.Shutdown()
}
