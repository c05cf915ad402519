// Command monitor runs C3, the monitoring engine, as a long-lived daemon:
// one worker ticking at a fixed interval per configured model. Grounded on
// the teacher's cmd/optimization/main.go flag-parsing and signal-driven
// graceful shutdown idiom.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"sentryml/internal/artifacts"
	"sentryml/internal/baseline"
	"sentryml/internal/config"
	"sentryml/internal/database"
	"sentryml/internal/ledger"
	"sentryml/internal/monitor"
	"sentryml/internal/observability"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file (defaults are used if empty)")
	modelName := flag.String("model", "credit-risk", "model_name to monitor")
	referenceID := flag.String("reference-id", "default", "reference_id of the baseline to verify against")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.WithComponent("cmd/monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal, draining in-flight tick")
		cancel()
	}()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		log.WithError(err).Error("failed to ensure schema")
		os.Exit(1)
	}

	baselineStore, err := baseline.Open(cfg.ReferenceDB.ManifestPath, cfg.ReferenceDB.BaselinePath, logger)
	if err != nil {
		log.WithError(err).Error("failed to open reference baseline store")
		os.Exit(1)
	}
	defer baselineStore.Close()

	artifactStore, err := artifacts.New(cfg.Artifacts.Directory)
	if err != nil {
		log.WithError(err).Error("failed to open artifact store")
		os.Exit(1)
	}

	alerts := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
	defer alerts.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.GetMetrics(reg)
	if cfg.Observability.MetricsEnabled {
		go serveMetrics(cfg.Observability.MetricsAddr, reg, log)
	}

	led := ledger.New(db)
	m := monitor.New(db, baselineStore, led, artifactStore, alerts, "drift_alert", logger, metrics, cfg.Monitoring)

	log.Info("monitor started")
	interval := time.Duration(cfg.Monitoring.IntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return
		case now := <-ticker.C:
			result, err := m.Tick(ctx, *modelName, *referenceID, now)
			if err != nil {
				log.WithError(err).Error("monitoring tick failed")
				continue
			}
			log.WithFields(
				"run_id", result.RunID,
				"num_predictions", result.NumPredictions,
				"feature_drift_ratio", result.FeatureDriftRatio,
				"dataset_drift", result.DatasetDriftDetected,
			).Info("monitoring tick completed")
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}
