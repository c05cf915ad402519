// Package monitor implements C3, the monitoring engine: on each tick it
// verifies the reference baseline, streams the lookback window of
// predictions, computes label-free proxy metrics and per-feature drift
// verdicts, persists one MonitoringMetric row, and publishes a drift_alert
// when the dataset-level threshold is crossed. Grounded on the teacher's
// single-worker scheduled-job idiom in cmd/optimization/main.go (a ticker
// loop with an in-flight guard) generalized from a fixed optimization pass
// to a statistical drift comparison.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sentryml/internal/apperrors"
	"sentryml/internal/artifacts"
	"sentryml/internal/baseline"
	"sentryml/internal/config"
	"sentryml/internal/database"
	"sentryml/internal/ledger"
	"sentryml/internal/models"
	"sentryml/internal/observability"
)

// DriftAlert is the event published when dataset_drift_detected is true.
// Delivery is at-least-once; consumers deduplicate on RunID.
type DriftAlert struct {
	RunID             string    `json:"run_id"`
	RunAt             time.Time `json:"run_at"`
	ModelName         string    `json:"model_name"`
	FeatureDriftRatio float64   `json:"feature_drift_ratio"`
	DriftedFeatures   []string  `json:"drifted_features"`
}

// FeatureDriftDetail is one feature's drift test result, stored in full as
// the drift artifact body referenced by drift_artifact_ref.
type FeatureDriftDetail struct {
	Feature    string  `json:"feature"`
	Excluded   bool    `json:"excluded"`
	Drifted    bool    `json:"drifted"`
	PValue     float64 `json:"p_value"`
	EffectSize float64 `json:"effect_size"`
}

// Monitor is C3's implementation.
type Monitor struct {
	repo      repository
	baseline  *baseline.Store
	ledger    *ledger.Ledger
	artifacts *artifacts.Store
	alerts    *redis.Client
	alertChan string
	logger    *observability.Logger
	metrics   *observability.Metrics
	cfg       config.Monitoring

	tickMu sync.Mutex
}

// New wires C3's collaborators.
func New(db *database.DB, baselineStore *baseline.Store, led *ledger.Ledger, artifactStore *artifacts.Store, alerts *redis.Client, alertChan string, logger *observability.Logger, metrics *observability.Metrics, cfg config.Monitoring) *Monitor {
	return &Monitor{
		repo:      repository{db: db},
		baseline:  baselineStore,
		ledger:    led,
		artifacts: artifactStore,
		alerts:    alerts,
		alertChan: alertChan,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Tick runs one monitoring pass for modelName against referenceID at time
// now. It never starts while a previous tick for this Monitor is still
// writing; an overlapping call returns immediately with an overlap_skip
// MonitoringMetric row rather than blocking.
func (m *Monitor) Tick(ctx context.Context, modelName, referenceID string, now time.Time) (models.MonitoringMetric, error) {
	if !m.tickMu.TryLock() {
		skip := models.MonitoringMetric{
			RunID:     uuid.NewString(),
			RunAt:     now,
			ModelName: modelName,
			Reason:    "overlap_skip",
		}
		if err := m.repo.insert(ctx, skip); err != nil {
			return skip, err
		}
		return skip, nil
	}
	defer m.tickMu.Unlock()
	started := time.Now()

	logger := m.logger.WithComponent("monitor").WithFields("model_name", modelName)

	ref, err := m.baseline.Load(ctx, referenceID)
	if err != nil {
		logger.WithError(err).Error("reference baseline verification failed, aborting tick")
		if m.metrics != nil {
			m.metrics.RecordTick(modelName, "integrity_error", time.Since(started).Seconds())
		}
		return models.MonitoringMetric{}, err
	}

	windowStart := now.Add(-time.Duration(m.cfg.LookbackH) * time.Hour)
	cursor, err := m.ledger.LoadPredictionsSince(ctx, modelName, windowStart, now)
	if err != nil {
		return models.MonitoringMetric{}, err
	}
	defer cursor.Close()

	rows := make([]models.PredictionRecord, 0, 1024)
	for cursor.Next() {
		rows = append(rows, cursor.Value())
	}
	if err := cursor.Err(); err != nil {
		return models.MonitoringMetric{}, apperrors.NewTransientStorageError("Tick.streamPredictions", err)
	}

	runID := uuid.NewString()
	n := len(rows)

	if n < m.cfg.MinSamples {
		result := models.MonitoringMetric{
			RunID:                runID,
			RunAt:                now,
			ModelName:            modelName,
			LookbackHours:        m.cfg.LookbackH,
			NumPredictions:       n,
			DatasetDriftDetected: false,
			NumDriftedFeatures:   0,
			Reason:               "insufficient_samples",
		}
		if err := m.repo.insert(ctx, result); err != nil {
			return result, err
		}
		return result, nil
	}

	positiveRate, probMean, probStd, entropy := proxyMetrics(rows)

	details, driftedFeatures, evaluated := evaluateFeatureDrift(ref.FeatureSchema, ref.Rows, rows, m.cfg.DriftPThreshold, m.cfg.EffectSizeFloor)
	driftRatio := 0.0
	if evaluated > 0 {
		driftRatio = float64(len(driftedFeatures)) / float64(evaluated)
	}
	datasetDrift := driftRatio >= m.cfg.DatasetThreshold

	artifactRef, err := m.artifacts.Put(ctx, details)
	if err != nil {
		return models.MonitoringMetric{}, err
	}

	result := models.MonitoringMetric{
		RunID:                runID,
		RunAt:                now,
		ModelName:            modelName,
		LookbackHours:        m.cfg.LookbackH,
		NumPredictions:       n,
		PositiveRate:         positiveRate,
		ProbabilityMean:      probMean,
		ProbabilityStd:       probStd,
		Entropy:              entropy,
		DatasetDriftDetected: datasetDrift,
		FeatureDriftRatio:    driftRatio,
		NumDriftedFeatures:   len(driftedFeatures),
		NumEvaluatedFeatures: evaluated,
		DriftArtifactRef:     artifactRef,
	}
	if err := m.repo.insert(ctx, result); err != nil {
		return result, err
	}
	if m.metrics != nil {
		m.metrics.RecordTick(modelName, "completed", time.Since(started).Seconds())
		m.metrics.RecordDriftRatio(modelName, driftRatio, datasetDrift)
	}

	if datasetDrift {
		alert := DriftAlert{
			RunID:             runID,
			RunAt:             now,
			ModelName:         modelName,
			FeatureDriftRatio: driftRatio,
			DriftedFeatures:   driftedFeatures,
		}
		if err := m.publishAlert(ctx, alert); err != nil {
			logger.WithError(err).Warn("failed to publish drift_alert, tick result is still persisted")
		}
	}

	return result, nil
}

func (m *Monitor) publishAlert(ctx context.Context, alert DriftAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal drift alert: %w", err)
	}
	return m.alerts.Publish(ctx, m.alertChan, data).Err()
}

func proxyMetrics(rows []models.PredictionRecord) (positiveRate, probMean, probStd, entropy float64) {
	n := float64(len(rows))
	if n == 0 {
		return 0, 0, 0, 0
	}
	var positives, sumProb, sumEntropy float64
	for _, r := range rows {
		if r.PredictedClass == 1 {
			positives++
		}
		sumProb += r.PredictedProbability
		sumEntropy += binaryEntropy(r.PredictedProbability)
	}
	positiveRate = positives / n
	probMean = sumProb / n

	var ss float64
	for _, r := range rows {
		d := r.PredictedProbability - probMean
		ss += d * d
	}
	probStd = 0
	if n > 0 {
		probStd = sqrtSafe(ss / n)
	}
	entropy = sumEntropy / n
	return positiveRate, probMean, probStd, entropy
}

func sqrtSafe(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
