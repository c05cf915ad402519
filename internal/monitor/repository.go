package monitor

import (
	"context"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

type repository struct {
	db *database.DB
}

func (r *repository) insert(ctx context.Context, m models.MonitoringMetric) error {
	const q = `
		INSERT INTO monitoring_metrics (
			run_id, run_at, model_name, lookback_hours, num_predictions,
			positive_rate, probability_mean, probability_std, entropy,
			dataset_drift_detected, feature_drift_ratio, num_drifted_features,
			num_evaluated_features, reason, drift_artifact_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`
	_, err := r.db.ExecContext(ctx, q,
		m.RunID, m.RunAt, m.ModelName, m.LookbackHours, m.NumPredictions,
		m.PositiveRate, m.ProbabilityMean, m.ProbabilityStd, m.Entropy,
		m.DatasetDriftDetected, m.FeatureDriftRatio, m.NumDriftedFeatures,
		m.NumEvaluatedFeatures, nullIfEmpty(m.Reason), nullIfEmpty(m.DriftArtifactRef),
	)
	if err != nil {
		return apperrors.NewTransientStorageError("monitor.repository.insert", err)
	}
	return nil
}

// recentDriftRatios returns the feature_drift_ratio of the last n runs for
// modelName, most recent first, used by the rolling trend helper.
func (r *repository) recentDriftRatios(ctx context.Context, modelName string, n int) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT feature_drift_ratio FROM monitoring_metrics
		 WHERE model_name = $1 ORDER BY run_at DESC LIMIT $2`,
		modelName, n,
	)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("monitor.repository.recentDriftRatios", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.NewTransientStorageError("monitor.repository.recentDriftRatios.scan", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
