// Command orchestrator runs C4, the retraining orchestrator, as a daemon: a
// wall-clock schedule ticker plus subscribers on the drift_alert and
// manual_trigger channels, all invoking the same per-model-name-locked Run.
// Grounded on the same flag-parsing/signal-shutdown idiom as cmd/monitor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"sentryml/internal/artifacts"
	"sentryml/internal/config"
	"sentryml/internal/database"
	"sentryml/internal/decisionlog"
	"sentryml/internal/ledger"
	"sentryml/internal/modelcache"
	"sentryml/internal/models"
	"sentryml/internal/monitor"
	"sentryml/internal/observability"
	"sentryml/internal/orchestrator"
	"sentryml/internal/registry"
	"sentryml/internal/training"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file (defaults are used if empty)")
	modelName := flag.String("model", "credit-risk", "model_name to orchestrate retraining for")
	scheduleIntervalS := flag.Int("schedule-interval-s", 3600, "Wall-clock schedule interval for a scheduled trigger, in seconds")
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
	log := logger.WithComponent("cmd/orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
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

	artifactStore, err := artifacts.New(cfg.Artifacts.Directory)
	if err != nil {
		log.WithError(err).Error("failed to open artifact store")
		os.Exit(1)
	}

	metrics := observability.GetMetrics(prometheus.NewRegistry())

	led := ledger.New(db)
	reg := registry.New(db)
	decisions := decisionlog.New(db)
	scorer := &training.LinearScorer{FeatureOrder: []string{"age", "MonthlyIncome"}, Blobs: artifactStore}

	orch := orchestrator.New(led, reg, decisions, artifactStore, scorer, scorer, cfg.Decision, logger, metrics)

	alerts := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
	defer alerts.Close()

	cache := modelcache.New(cfg.Cache, logger)
	defer cache.Close()

	go watchDriftAlerts(ctx, alerts, orch, cache, log)
	go watchManualTriggers(ctx, alerts, orch, cache, log)

	ticker := time.NewTicker(time.Duration(*scheduleIntervalS) * time.Second)
	defer ticker.Stop()

	janitor := registry.NewJanitor(db, time.Duration(cfg.Decision.StagingTTLS)*time.Second)

	log.Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			log.Info("orchestrator stopped")
			return
		case now := <-ticker.C:
			runOnce(ctx, orch, cache, *modelName, models.TriggerScheduled, now, log)
			if n, err := janitor.Sweep(ctx, now); err != nil {
				log.WithError(err).Warn("janitor sweep failed")
			} else if n > 0 {
				log.WithFields("archived", n).Info("janitor archived stale staging candidates")
			}
		}
	}
}

func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, cache *modelcache.Cache, modelName string, trigger models.TriggerReason, now time.Time, log *observability.Logger) {
	seed := now.UnixNano()
	decision, err := orch.Run(ctx, modelName, trigger, seed, now)
	if err != nil {
		log.WithError(err).Error("orchestration run failed")
		return
	}
	log.WithFields(
		"decision_id", decision.DecisionID,
		"action", string(decision.Action),
		"reason", decision.Reason,
	).Info("orchestration run completed")

	if decision.Action == models.ActionPromote {
		if err := cache.PublishPromotion(ctx, modelName); err != nil {
			log.WithError(err).Warn("failed to publish promotion signal")
		}
	}
}

func watchDriftAlerts(ctx context.Context, alerts *redis.Client, orch *orchestrator.Orchestrator, cache *modelcache.Cache, log *observability.Logger) {
	sub := alerts.Subscribe(ctx, "drift_alert")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var alert monitor.DriftAlert
			if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
				log.WithError(err).Warn("failed to decode drift_alert payload")
				continue
			}
			runOnce(ctx, orch, cache, alert.ModelName, models.TriggerDriftAlert, alert.RunAt, log)
		}
	}
}

// manualTrigger mirrors cmd/sentryctl's publish envelope on manual_trigger.
type manualTrigger struct {
	ModelName   string    `json:"model_name"`
	RequestedAt time.Time `json:"requested_at"`
}

func watchManualTriggers(ctx context.Context, alerts *redis.Client, orch *orchestrator.Orchestrator, cache *modelcache.Cache, log *observability.Logger) {
	sub := alerts.Subscribe(ctx, "manual_trigger")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var trigger manualTrigger
			if err := json.Unmarshal([]byte(msg.Payload), &trigger); err != nil {
				log.WithError(err).Warn("failed to decode manual_trigger payload")
				continue
			}
			runOnce(ctx, orch, cache, trigger.ModelName, models.TriggerManual, trigger.RequestedAt, log)
		}
	}
}
